package parser

type Shape string

const (
	ShapeRated  Shape = "rated"
	ShapeSimple Shape = "simple"
)

type Field string

const (
	FieldUsername Field = "username"
	FieldTenure   Field = "time_in_airbnb"
	FieldRating   Field = "rating"
	FieldPostTime Field = "post_time"
	FieldResponse Field = "response"
)

// Outcome tags how a field value was obtained.
type Outcome int

const (
	Absent Outcome = iota
	Matched
	Fallback
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Fallback:
		return "fallback"
	default:
		return "absent"
	}
}

type Attempt struct {
	Field   Field
	Outcome Outcome
}

func (r *Result) trace(f Field, o Outcome) {
	r.Trace = append(r.Trace, Attempt{Field: f, Outcome: o})
}
