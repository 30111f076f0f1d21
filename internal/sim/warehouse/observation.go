package warehouse

import (
	"warehouse.ai/internal/protocol"
	"warehouse.ai/internal/sim/grid"
)

// observe builds the policy-facing view of the env at the current tick.
func (e *Env) observe() protocol.Observation {
	obs := protocol.Observation{
		Time: e.tick,
		Financial: [4]float64{
			e.ledger.Revenue,
			e.ledger.Cost,
			e.ledger.Profit(),
			e.ledger.BurnRate,
		},
		OrderQueue: make([]protocol.OrderObs, 0, min(e.queue.Len(), e.tune.Orders.QueueSlots)),
		Employees:  make([]protocol.EmployeeObs, 0, len(e.employees)),
	}
	for slot, o := range e.queue.Orders() {
		if slot >= e.tune.Orders.QueueSlots {
			break
		}
		obs.OrderQueue = append(obs.OrderQueue, protocol.OrderObs{
			Slot:      slot,
			ID:        o.ID,
			Items:     itemsToInts(o.Items),
			Value:     o.Value,
			Age:       o.Age(e.tick),
			Status:    o.Status.String(),
			ClaimedBy: o.ClaimedBy,
		})
	}
	for _, emp := range e.employees {
		eo := protocol.EmployeeObs{
			ID:       emp.ID,
			Role:     emp.Role.String(),
			Pos:      toPair(emp.Pos),
			State:    emp.Kind().String(),
			OrderID:  emp.OrderID(),
			Carried:  itemsToInts(emp.Carried()),
			Required: itemsToInts(emp.Required()),
		}
		if task, ok := emp.Task(); ok {
			eo.Relocation = &protocol.RelocationObs{
				Source: e.grid.Index(task.Source),
				Target: e.grid.Index(task.Target),
				Stage:  task.Stage,
			}
			if h := emp.Held(); h != grid.NoItem {
				v := int(h)
				eo.Held = &v
			}
		}
		obs.Employees = append(obs.Employees, eo)
	}

	obs.Layout.ItemLocations = e.grid.ItemLocations()
	obs.Layout.AccessFrequency = e.grid.AccessFrequencies()
	for _, p := range e.grid.CoOccurrencePairs() {
		obs.Layout.CoOccurrence = append(obs.Layout.CoOccurrence, protocol.PairObs{A: int(p.A), B: int(p.B), Count: p.Count})
	}
	return obs
}

func (e *Env) info() protocol.Info {
	workers, managers := e.headcount()
	done := e.counters.completed + e.counters.cancelled
	rate := 0.0
	if done > 0 {
		rate = float64(e.counters.completed) / float64(done)
	}
	win := e.stats.Summarize(e.tick)
	throughput := 0.0
	if wt := e.stats.WindowTicks(); wt > 0 {
		throughput = float64(win.Completed) / float64(wt)
	}
	return protocol.Info{
		Profit:               e.ledger.Profit(),
		Revenue:              e.ledger.Revenue,
		Cost:                 e.ledger.Cost,
		CompletionRate:       rate,
		OrdersCompleted:      e.counters.completed,
		TotalCompletedOrders: e.counters.completed,
		OrdersCancelled:      e.counters.cancelled,
		OrdersGenerated:      e.counters.generated,
		QueueLength:          e.queue.Len(),
		NumWorkers:           workers,
		NumManagers:          managers,
		SwapsCompleted:       e.counters.swaps,
		RejectedActions:      e.counters.rejected,
		ItemsRestocked:       sum(e.cons.restocked),
		ItemsScrapped:        sum(e.cons.scrapped),
		WindowCompleted:      win.Completed,
		WindowCancelled:      win.Cancelled,
		WindowThroughput:     throughput,
	}
}

// Observe returns the current observation without stepping.
func (e *Env) Observe() protocol.Observation { return e.observe() }

func (e *Env) Info() protocol.Info { return e.info() }

// Params describes the env to a connecting policy.
func (e *Env) Params() protocol.EnvParams {
	t := e.tune
	return protocol.EnvParams{
		Width:         t.Grid.Width,
		Height:        t.Grid.Height,
		NumItemTypes:  t.Grid.NumItemTypes,
		QueueSlots:    t.Orders.QueueSlots,
		MaxEmployees:  t.Staffing.MaxEmployees,
		MinEmployees:  t.Staffing.MinEmployees,
		EpisodeLength: t.Episode.LengthTicks,
		TickRateHz:    t.Server.TickRateHz,
		Seed:          e.seed,
	}
}
