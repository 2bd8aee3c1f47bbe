package server

import (
	"html/template"
	"net/http"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>shiftnoise jobs</title>
<style>
body { font-family: sans-serif; margin: 2em; }
td, th { padding: 0.2em 0.8em; text-align: left; }
img { border: 1px solid #ccc; }
</style>
</head>
<body>
<h1>Jobs</h1>
<table>
<tr><th>ID</th><th>State</th><th>Mode</th><th>n</th><th>C</th><th>Iteration</th><th>Objective</th><th>Gap</th></tr>
{{range .}}<tr>
<td><a href="#{{.ID}}" onclick="watch('{{.ID}}')">{{.ID}}</a></td>
<td>{{.State}}</td><td>{{.Config.Mode}}</td><td>{{.Config.Quantization}}</td><td>{{.Config.CostBound}}</td>
<td>{{.Iteration}}</td><td>{{printf "%.6g" .Primal}}</td><td>{{printf "%.3g" .Gap}}</td>
</tr>{{else}}<tr><td colspan="8">No jobs yet. POST a configuration to /api/v1/jobs.</td></tr>{{end}}
</table>
<p id="status"></p>
<img id="plot" alt="">
<script>
let source;
function watch(id) {
  if (source) source.close();
  source = new EventSource('/api/v1/jobs/' + id + '/stream');
  source.onmessage = function(e) {
    const ev = JSON.parse(e.data);
    document.getElementById('status').textContent =
      ev.state + ' iteration ' + ev.iteration + ' objective ' + ev.primal.toPrecision(6) +
      ' t ' + ev.temperature.toPrecision(3) + ' gap ' + ev.gap.toPrecision(3);
    document.getElementById('plot').src = '/api/v1/jobs/' + id + '/plot.png?scale=log&ts=' + Date.now();
  };
}
</script>
</body>
</html>
`))

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.jobManager.ListJobs()); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}
