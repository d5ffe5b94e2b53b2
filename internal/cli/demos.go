package cli

import (
	"github.com/entityql/eql/internal/eql"
)

// A Demo is a bundled query built over a loaded dataset registry.
type Demo struct {
	Name  string
	Short string
	Build func(b *eql.Builder) *eql.Query
}

// Demos lists the bundled queries in presentation order.
func Demos() []Demo {
	return []Demo{
		{
			Name:  "adults",
			Short: "people aged 18 or older",
			Build: func(b *eql.Builder) *eql.Query {
				person := b.Var("person", &Person{})
				return b.An(b.Entity(person, b.Ge(b.Attr(person, "Age"), 18)))
			},
		},
		{
			Name:  "enrolled",
			Short: "people listed on some team's member roster",
			Build: func(b *eql.Builder) *eql.Query {
				person := b.Var("person", &Person{})
				team := b.Var("team", &Team{})
				return b.An(b.Entity(person,
					b.Contains(b.Attr(team, "Members"), b.Attr(person, "Name")),
				))
			},
		},
		{
			Name:  "rosters",
			Short: "every (person, team) membership pair",
			Build: func(b *eql.Builder) *eql.Query {
				person := b.Var("person", &Person{})
				team := b.Var("team", &Team{})
				return b.An(b.SetOf([]eql.Expr{person, team},
					b.Contains(b.Attr(team, "Members"), b.Attr(person, "Name")),
				))
			},
		},
		{
			Name:  "minors-or-seniors",
			Short: "people under 18 or over 40",
			Build: func(b *eql.Builder) *eql.Query {
				person := b.Var("person", &Person{})
				return b.An(b.Entity(person, b.Or(
					b.Lt(b.Attr(person, "Age"), 18),
					b.Gt(b.Attr(person, "Age"), 40),
				)))
			},
		},
	}
}

func findDemo(name string) (Demo, bool) {
	for _, d := range Demos() {
		if d.Name == name {
			return d, true
		}
	}
	return Demo{}, false
}
