package graph

import (
	"math"

	"github.com/vetai/backend/internal/domain/entities"
)

// LayoutOptions tunes the force simulation.
type LayoutOptions struct {
	LinkDistance  float64
	Charge        float64
	CollideRadius float64
	CenterX       float64
	CenterY       float64
	AlphaMin      float64
	VelocityDecay float64
	Ticks         int
}

// DefaultLayoutOptions mirrors the parameters the graph view renders with.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{
		LinkDistance:  80,
		Charge:        -300,
		CollideRadius: 20,
		AlphaMin:      0.001,
		VelocityDecay: 0.4,
		Ticks:         300,
	}
}

type body struct {
	x, y, vx, vy float64
}

type spring struct {
	source, target int
	strength, bias float64
}

// lcg is a fixed-seed generator so that coincident nodes are separated the
// same way on every run.
type lcg struct{ state uint32 }

func (r *lcg) jiggle() float64 {
	r.state = r.state*1664525 + 1013904223
	return (float64(r.state)/4294967296 - 0.5) * 1e-6
}

// Layout positions every node of g with a deterministic force-directed
// simulation: link springs, many-body repulsion, centering and collision.
// X and Y are written on each node.
func Layout(g *entities.KnowledgeGraphData, opts LayoutOptions) {
	if g == nil || len(g.Nodes) == 0 {
		return
	}
	if opts.Ticks <= 0 {
		opts.Ticks = DefaultLayoutOptions().Ticks
	}
	if opts.AlphaMin <= 0 {
		opts.AlphaMin = DefaultLayoutOptions().AlphaMin
	}

	bodies := make([]body, len(g.Nodes))
	index := make(map[string]int, len(g.Nodes))
	initialAngle := math.Pi * (3 - math.Sqrt(5))
	for i, n := range g.Nodes {
		index[n.ID] = i
		radius := 10 * math.Sqrt(0.5+float64(i))
		angle := float64(i) * initialAngle
		bodies[i] = body{x: opts.CenterX + radius*math.Cos(angle), y: opts.CenterY + radius*math.Sin(angle)}
	}

	springs := buildSprings(g.Links, index)
	rng := &lcg{state: 1}

	alpha := 1.0
	alphaDecay := 1 - math.Pow(opts.AlphaMin, 1/float64(opts.Ticks))
	keep := 1 - opts.VelocityDecay

	for tick := 0; tick < opts.Ticks && alpha >= opts.AlphaMin; tick++ {
		alpha += (0 - alpha) * alphaDecay

		applyLinks(bodies, springs, opts.LinkDistance, alpha, rng)
		applyCharge(bodies, opts.Charge, alpha, rng)
		applyCenter(bodies, opts.CenterX, opts.CenterY)
		applyCollide(bodies, opts.CollideRadius, rng)

		for i := range bodies {
			b := &bodies[i]
			b.vx *= keep
			b.vy *= keep
			b.x += b.vx
			b.y += b.vy
		}
	}

	for i := range g.Nodes {
		x, y := round(bodies[i].x), round(bodies[i].y)
		g.Nodes[i].X = &x
		g.Nodes[i].Y = &y
	}
}

func buildSprings(links []entities.GraphLink, index map[string]int) []spring {
	degree := make(map[int]int)
	springs := make([]spring, 0, len(links))
	for _, l := range links {
		s, ok := index[l.Source]
		if !ok {
			continue
		}
		t, ok := index[l.Target]
		if !ok || s == t {
			continue
		}
		degree[s]++
		degree[t]++
		springs = append(springs, spring{source: s, target: t})
	}
	for i := range springs {
		ds, dt := float64(degree[springs[i].source]), float64(degree[springs[i].target])
		springs[i].strength = 1 / math.Min(ds, dt)
		springs[i].bias = ds / (ds + dt)
	}
	return springs
}

func applyLinks(bodies []body, springs []spring, distance, alpha float64, rng *lcg) {
	for _, sp := range springs {
		src, tgt := &bodies[sp.source], &bodies[sp.target]
		x := tgt.x + tgt.vx - src.x - src.vx
		y := tgt.y + tgt.vy - src.y - src.vy
		if x == 0 {
			x = rng.jiggle()
		}
		if y == 0 {
			y = rng.jiggle()
		}
		l := math.Sqrt(x*x + y*y)
		l = (l - distance) / l * alpha * sp.strength
		x *= l
		y *= l
		tgt.vx -= x * sp.bias
		tgt.vy -= y * sp.bias
		src.vx += x * (1 - sp.bias)
		src.vy += y * (1 - sp.bias)
	}
}

func applyCharge(bodies []body, strength, alpha float64, rng *lcg) {
	for i := range bodies {
		for j := range bodies {
			if i == j {
				continue
			}
			x := bodies[j].x - bodies[i].x
			y := bodies[j].y - bodies[i].y
			if x == 0 {
				x = rng.jiggle()
			}
			if y == 0 {
				y = rng.jiggle()
			}
			l := x*x + y*y
			if l < 1 {
				l = math.Sqrt(l)
			}
			w := strength * alpha / l
			bodies[i].vx += x * w
			bodies[i].vy += y * w
		}
	}
}

func applyCenter(bodies []body, cx, cy float64) {
	var sx, sy float64
	for _, b := range bodies {
		sx += b.x
		sy += b.y
	}
	sx = sx/float64(len(bodies)) - cx
	sy = sy/float64(len(bodies)) - cy
	for i := range bodies {
		bodies[i].x -= sx
		bodies[i].y -= sy
	}
}

func applyCollide(bodies []body, radius float64, rng *lcg) {
	r := radius * 2
	for i := range bodies {
		xi := bodies[i].x + bodies[i].vx
		yi := bodies[i].y + bodies[i].vy
		for j := i + 1; j < len(bodies); j++ {
			x := xi - bodies[j].x - bodies[j].vx
			y := yi - bodies[j].y - bodies[j].vy
			l := x*x + y*y
			if l >= r*r {
				continue
			}
			if x == 0 {
				x = rng.jiggle()
				l += x * x
			}
			if y == 0 {
				y = rng.jiggle()
				l += y * y
			}
			l = math.Sqrt(l)
			l = (r - l) / l
			x *= l
			y *= l
			bodies[i].vx += x / 2
			bodies[i].vy += y / 2
			bodies[j].vx -= x / 2
			bodies[j].vy -= y / 2
		}
	}
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
