package server

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/tuneloop/tuneloop/internal/store"
)

// Review page template data structures
type reviewData struct {
	Proposals   []proposalItem
	Experiments []experimentItem
}

type proposalItem struct {
	ID          string
	Source      string
	Target      string
	Description string
	Change      string
	Confidence  string
	CreatedAt   string
}

type experimentItem struct {
	ID         int64
	Name       string
	Variable   string
	Metric     string
	Variants   int
	BestRate   string
	Confidence string
}

var reviewTmpl = template.Must(template.New("review").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>tuneloop review</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem; color: #222; }
h1 { font-size: 1.4rem; }
h2 { font-size: 1.1rem; margin-top: 2rem; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; font-size: 0.9rem; }
th { color: #666; font-weight: 600; }
form { display: inline; }
button { padding: 0.2rem 0.7rem; border-radius: 4px; border: 1px solid #888; background: #fff; cursor: pointer; }
button.approve { border-color: #2a7; color: #2a7; }
button.reject { border-color: #c44; color: #c44; }
.empty { color: #888; font-style: italic; }
.logout { float: right; font-size: 0.8rem; }
</style>
</head>
<body>
<a class="logout" href="/review?logout=1">log out</a>
<h1>tuneloop review</h1>

<h2>Pending proposals</h2>
{{if .Proposals}}
<table>
<tr><th>Target</th><th>Source</th><th>Change</th><th>Confidence</th><th>Created</th><th></th></tr>
{{range .Proposals}}
<tr>
<td title="{{.Description}}">{{.Target}}</td>
<td>{{.Source}}</td>
<td>{{.Change}}</td>
<td>{{.Confidence}}</td>
<td>{{.CreatedAt}}</td>
<td>
<form method="post" action="/review/approve"><input type="hidden" name="id" value="{{.ID}}"><button class="approve">approve</button></form>
<form method="post" action="/review/reject"><input type="hidden" name="id" value="{{.ID}}"><button class="reject">reject</button></form>
</td>
</tr>
{{end}}
</table>
{{else}}
<p class="empty">Nothing awaiting review.</p>
{{end}}

<h2>Active experiments</h2>
{{if .Experiments}}
<table>
<tr><th>ID</th><th>Name</th><th>Variable</th><th>Metric</th><th>Variants</th><th>Best rate</th><th>Confidence</th></tr>
{{range .Experiments}}
<tr>
<td>{{.ID}}</td><td>{{.Name}}</td><td>{{.Variable}}</td><td>{{.Metric}}</td>
<td>{{.Variants}}</td><td>{{.BestRate}}</td><td>{{.Confidence}}</td>
</tr>
{{end}}
</table>
{{else}}
<p class="empty">No active experiments.</p>
{{end}}
</body>
</html>
`))

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	// Handle logout
	if r.URL.Query().Get("logout") == "1" {
		http.SetCookie(w, &http.Cookie{
			Name:   tokenCookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
		http.Redirect(w, r, "/review", http.StatusFound)
		return
	}

	ctx := r.Context()

	pending, err := s.coord.PendingProposals(ctx)
	if err != nil {
		http.Error(w, "Failed to load proposals", http.StatusInternalServerError)
		return
	}

	proposals := make([]proposalItem, len(pending))
	for i, p := range pending {
		proposals[i] = proposalItem{
			ID:          p.ID,
			Source:      p.Source,
			Target:      p.Category + "/" + p.Parameter,
			Description: p.Description,
			Change:      p.Adjustment.String(),
			Confidence:  fmt.Sprintf("%.0f%%", p.Confidence*100),
			CreatedAt:   p.CreatedAt.Format("Jan 2, 2006"),
		}
	}

	active, err := s.store.ListExperiments(ctx, store.ExperimentActive)
	if err != nil {
		http.Error(w, "Failed to load experiments", http.StatusInternalServerError)
		return
	}

	experiments := make([]experimentItem, len(active))
	for i, exp := range active {
		variants, _ := s.store.ListVariants(ctx, exp.ID)

		bestRate := 0.0
		for _, v := range variants {
			if rate := v.Rate(exp.Metric); rate > bestRate {
				bestRate = rate
			}
		}

		experiments[i] = experimentItem{
			ID:         exp.ID,
			Name:       exp.Name,
			Variable:   exp.Variable,
			Metric:     string(exp.Metric),
			Variants:   len(variants),
			BestRate:   formatPercentage(bestRate * 100),
			Confidence: fmt.Sprintf("%.0f%%", exp.ConfidenceLevel*100),
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := reviewTmpl.Execute(w, reviewData{Proposals: proposals, Experiments: experiments}); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

func formatPercentage(p float64) string {
	if p < 0.01 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", p)
}
