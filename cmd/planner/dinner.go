package main

import (
	"github.com/ZanzyTHEbar/htnscale"
)

// dinnerDomain builds the built-in example domain: a hungry agent prefers
// cooking over ordering takeout, eats, cleans up if there are dishes, and
// falls back to watching TV when dinner is out of reach.
func dinnerDomain() (*htnscale.Domain, error) {
	d := htnscale.NewDomain("dinner")

	world := func(st htnscale.State) htnscale.WorldState {
		return st.(htnscale.WorldState)
	}

	steps := []struct {
		name string
		opts []htnscale.TaskOption
	}{
		{"order_takeout", []htnscale.TaskOption{
			htnscale.WithGuard(func(st htnscale.State) bool { return world(st).Int("cash") >= takeoutCost }),
			htnscale.WithEffect(func(st htnscale.State) { w := world(st); w.Set("cash", w.Int("cash")-takeoutCost) }),
			htnscale.AsPrimitive("order_takeout"),
		}},
		{"cook_dinner", []htnscale.TaskOption{
			htnscale.WithGuard(func(st htnscale.State) bool {
				w := world(st)
				return w.Bool("food_in_fridge") && w.Bool("can_cook")
			}),
			htnscale.WithEffect(func(st htnscale.State) { world(st).Set("food_in_fridge", false) }),
			htnscale.WithEffect(func(st htnscale.State) { world(st).Set("dishes", true) }),
			htnscale.AsPrimitive("cook_dinner"),
		}},
		{"eat_dinner", []htnscale.TaskOption{
			htnscale.WithEffect(func(st htnscale.State) { world(st).Set("hungry", false) }),
			htnscale.AsPrimitive("eat_dinner"),
		}},
		{"wash_dishes", []htnscale.TaskOption{
			htnscale.WithGuard(func(st htnscale.State) bool { return world(st).Bool("dishes") }),
			htnscale.WithEffect(func(st htnscale.State) { world(st).Set("dishes", false) }),
			htnscale.AsPrimitive("wash_dishes"),
		}},
		{"skip_cleaning", []htnscale.TaskOption{htnscale.AsNoOp()}},
		{"get_dinner", []htnscale.TaskOption{htnscale.Select("cook_dinner", "order_takeout")}},
		{"clean_up", []htnscale.TaskOption{htnscale.Select("wash_dishes", "skip_cleaning")}},
		{"have_dinner", []htnscale.TaskOption{
			htnscale.WithGuard(func(st htnscale.State) bool { return world(st).Bool("hungry") }),
			htnscale.Sequence("get_dinner", "eat_dinner", "clean_up"),
		}},
		{"watch_tv", []htnscale.TaskOption{htnscale.AsPrimitive("watch_tv")}},
		{"do_something", []htnscale.TaskOption{htnscale.Select("have_dinner", "watch_tv")}},
	}

	for _, step := range steps {
		if err := d.AddTask(step.name, step.opts...); err != nil {
			return nil, err
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

const takeoutCost = 20

// scenarios maps the named initial states the demo accepts.
var scenarios = map[string]htnscale.WorldState{
	"default": {
		"hungry": true, "food_in_fridge": true, "can_cook": true, "cash": 30, "dishes": false,
	},
	"takeout": {
		"hungry": true, "food_in_fridge": true, "can_cook": false, "cash": 30, "dishes": false,
	},
	"broke": {
		"hungry": true, "food_in_fridge": false, "can_cook": false, "cash": 0, "dishes": false,
	},
}
