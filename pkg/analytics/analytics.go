// Package analytics aggregates execution history into overview metrics,
// daily trends and a per-step funnel.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/dukex/stepflow/pkg/models"
)

const (
	DefaultDays = 30
	MaxDays     = 365

	dayLayout = "2006-01-02"
)

// Input is everything Analyze needs. Steps are the live workflow steps.
type Input struct {
	WorkflowID    string
	Steps         models.Steps
	Executions    []*models.Execution
	ActivePortals int
	Days          int
	Now           time.Time
}

type Overview struct {
	TotalSubmissions      int     `json:"total_submissions"`
	CompletionRate        float64 `json:"completion_rate"`
	AverageCompletionTime float64 `json:"average_completion_time"` // seconds
	ActivePortals         int     `json:"active_portals"`
}

// TrendPoint covers one UTC calendar day. Days without executions are omitted.
type TrendPoint struct {
	Date        string  `json:"date"`
	Submissions int     `json:"submissions"`
	Completions int     `json:"completions"`
	DropoffRate float64 `json:"dropoff_rate"`
}

type StepAnalytics struct {
	StepID      string  `json:"step_id"`
	StepTitle   string  `json:"step_title"`
	Order       int     `json:"order"`
	Views       int     `json:"views"`
	Completions int     `json:"completions"`
	DropoffRate float64 `json:"dropoff_rate"`
}

type Report struct {
	WorkflowID    string          `json:"workflow_id"`
	Days          int             `json:"days"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Overview      Overview        `json:"overview"`
	Trends        []TrendPoint    `json:"trends"`
	StepAnalytics []StepAnalytics `json:"step_analytics"`
}

// Round1 rounds a percentage half-up to one decimal place.
func Round1(x float64) float64 {
	return math.Floor(x*10+0.5) / 10
}

// percent returns round1(100 * part / whole), or 0 when whole is 0.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}

	return Round1(100 * float64(part) / float64(whole))
}

// Analyze computes the report. It never fails: empty input yields zeros.
func Analyze(in Input) *Report {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	if in.Days <= 0 {
		in.Days = DefaultDays
	}

	return &Report{
		WorkflowID:    in.WorkflowID,
		Days:          in.Days,
		GeneratedAt:   in.Now.UTC(),
		Overview:      overview(in),
		Trends:        trends(in),
		StepAnalytics: stepFunnel(in),
	}
}

func overview(in Input) Overview {
	var (
		completed int
		timed     int
		seconds   float64
	)

	for _, e := range in.Executions {
		if e.Status == models.ExecutionStatusCompleted {
			completed++
		}

		if e.CompletedAt != nil && !e.StartedAt.IsZero() {
			timed++
			seconds += e.CompletedAt.Sub(e.StartedAt).Seconds()
		}
	}

	avg := 0.0
	if timed > 0 {
		avg = seconds / float64(timed)
	}

	return Overview{
		TotalSubmissions:      len(in.Executions),
		CompletionRate:        percent(completed, len(in.Executions)),
		AverageCompletionTime: avg,
		ActivePortals:         in.ActivePortals,
	}
}

func trends(in Input) []TrendPoint {
	from := in.Now.Add(-time.Duration(in.Days) * 24 * time.Hour)
	byDay := make(map[string]*TrendPoint)

	for _, e := range in.Executions {
		if e.CreatedAt.Before(from) || e.CreatedAt.After(in.Now) {
			continue
		}

		day := e.CreatedAt.UTC().Format(dayLayout)

		point, ok := byDay[day]
		if !ok {
			point = &TrendPoint{Date: day}
			byDay[day] = point
		}

		point.Submissions++

		if e.Status == models.ExecutionStatusCompleted {
			point.Completions++
		}
	}

	points := make([]TrendPoint, 0, len(byDay))
	for _, point := range byDay {
		point.DropoffRate = percent(point.Submissions-point.Completions, point.Submissions)
		points = append(points, *point)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })

	return points
}

func stepFunnel(in Input) []StepAnalytics {
	views := make(map[string]int, len(in.Steps))
	completions := make(map[string]int, len(in.Steps))

	for _, e := range in.Executions {
		seen := make(map[string]bool, len(e.StepExecutions))

		for _, se := range e.StepExecutions {
			done := se.Status == models.StepExecutionStatusCompleted

			prev, counted := seen[se.StepID]
			if !counted {
				views[se.StepID]++
			}

			if done && !prev {
				completions[se.StepID]++
			}

			seen[se.StepID] = prev || done
		}
	}

	steps := in.Steps.Clone()
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	out := make([]StepAnalytics, 0, len(steps))

	for i := range steps {
		step := &steps[i]
		v, c := views[step.ID], completions[step.ID]

		out = append(out, StepAnalytics{
			StepID:      step.ID,
			StepTitle:   step.Label(),
			Order:       step.Order,
			Views:       v,
			Completions: c,
			DropoffRate: percent(v-c, v),
		})
	}

	return out
}
