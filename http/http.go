package http

import (
	"encoding/json"
	"html/template"
	"io"
	"log"
	"net/http"

	"github.com/chzchzchz/momentrx/momentrx"
	"github.com/chzchzchz/momentrx/store"
)

// RayBacklog is how many rays a slow stream client may fall behind before
// it misses rays.
const RayBacklog = 256

type httpHandler struct {
	p          *momentrx.Pipeline
	captures   *store.CaptureStore
	statusTmpl *template.Template
}

const statusTmplStr = `<!DOCTYPE html>
<html>
<head>
<title>momentrx {{.Id}}</title>
<meta http-equiv="refresh" content="2">
<style>
table, th, td {
  border: 1px solid black;
  text-align: right;
}
</style>
</head>
<body>
<h1>momentrx</h1>
<hr/>

<h2>Source &#x1F4E1;</h2>
<ul>
<li>Run: {{.Id}} up {{.Uptime}}</li>
<li>{{.Source.Kind}} {{.Source.Id}}: {{.Source.Gates}} gates at {{printf "%.0f" .Source.PRF}}Hz{{if .SrcDone}} (finished){{end}}</li>
{{if .SrcErr}}<li>Error: {{.SrcErr}}</li>{{end}}
<li>Pulses: {{.Pulses}}</li>
<li>Rays: {{.Rays}} collected, {{.RaysLost}} lost</li>
</ul>

{{range $_, $s := .Stages}}
<h2>{{$s.Name}}</h2>
<p><code>{{$s.Status}}</code></p>
<p>overflows {{$s.Overflows}}, skipped {{$s.Skipped}}, anomalies {{$s.Anomalies}}, lost {{$s.Lost}}</p>
<table>
<tr><th>Worker</th><th>Duty</th><th>Lag</th><th>Processed</th></tr>
{{range $_, $w := $s.Workers}}
<tr><td>{{$w.Worker}}</td><td>{{printf "%.2f" $w.DutyCycle}}</td><td>{{printf "%.2f" $w.Lag}}</td><td>{{$w.Processed}}</td></tr>
{{end}}
</table>
{{end}}

{{with .Last}}
<h2>Last ray &#x1F4CA;</h2>
<ul>
<li>#{{.Seq}} [{{.Status}}] {{.Time}}</li>
<li>Azimuth {{printf "%.2f" .Azimuth}}, elevation {{printf "%.2f" .Elevation}}</li>
<li>{{.Pulses}} pulses, {{.Gates}} gates</li>
<li>Mean Z {{printf "%.1f" .MeanZ}}dBZ, mean V {{printf "%.2f" .MeanV}}m/s</li>
</ul>
{{end}}
</body>
</html>
`

// Handler serves the status page at / and JSON snapshots under /api/.
func Handler(p *momentrx.Pipeline, captures *store.CaptureStore) http.Handler {
	h := &httpHandler{
		p:          p,
		captures:   captures,
		statusTmpl: template.Must(template.New("status").Parse(statusTmplStr)),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/captures", h.handleCaptures)
	mux.HandleFunc("/api/rays", h.handleRays)
	mux.HandleFunc("/", h.handleIndex)
	return mux
}

func ServeHttp(p *momentrx.Pipeline, captures *store.CaptureStore, serv string) error {
	return http.ListenAndServe(serv, Handler(p, captures))
}

func (h *httpHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if err := h.statusTmpl.Execute(w, h.p.Telemetry()); err != nil {
		io.WriteString(w, err.Error())
	}
}

func (h *httpHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.p.Telemetry())
}

func (h *httpHandler) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.captures == nil {
		writeJSON(w, []store.CaptureFile{})
		return
	}
	caps, err := h.captures.Captures()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, caps)
}

// handleRays streams collected rays as newline delimited JSON until the
// client goes away.
func (h *httpHandler) handleRays(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rayc, cancel := h.p.Feed.Subscribe(RayBacklog)
	defer cancel()
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	log.Printf("[%s] opened ray stream", r.RemoteAddr)
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-rayc:
			if err := enc.Encode(msg); err != nil {
				log.Printf("[%s] ray stream: %v", r.RemoteAddr, err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if js, err := json.Marshal(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	} else {
		w.Write(js)
	}
}
