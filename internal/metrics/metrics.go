package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mind-engage/examprep/internal/apiservice"
	"github.com/mind-engage/examprep/internal/session"
)

// Recorder counts session outcomes. It is a session.Observer.
type Recorder struct {
	reg *prometheus.Registry

	started  *prometheus.CounterVec
	live     prometheus.Gauge
	saves    *prometheus.CounterVec
	submits  *prometheus.CounterVec
	loadErrs prometheus.Counter
}

var _ session.Observer = (*Recorder)(nil)

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examprep", Name: "sessions_started_total",
			Help: "Test sessions started, by kind.",
		}, []string{"kind"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "examprep", Name: "sessions_live",
			Help: "Sessions currently held in memory.",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examprep", Name: "progress_saves_total",
			Help: "Progress saves sent upstream, by outcome.",
		}, []string{"outcome"}),
		submits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examprep", Name: "submits_total",
			Help: "Submit calls, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		loadErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "examprep", Name: "load_failures_total",
			Help: "Sessions that could not load their test.",
		}),
	}
	r.reg.MustRegister(r.started, r.live, r.saves, r.submits, r.loadErrs,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) SessionStarted(info session.Info) {
	r.started.WithLabelValues(string(info.Kind)).Inc()
	r.live.Inc()
}

func (r *Recorder) SessionEnded(session.Info) { r.live.Dec() }

func (r *Recorder) LoadFailed(session.Info, error) { r.loadErrs.Inc() }

func (r *Recorder) SaveDone(_ session.Info, _ apiservice.SaveRequest, err error) {
	r.saves.WithLabelValues(outcome(err)).Inc()
}

func (r *Recorder) SubmitDone(info session.Info, _ string, err error) {
	r.submits.WithLabelValues(string(info.Kind), outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
