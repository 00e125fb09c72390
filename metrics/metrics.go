package metrics

import prom "github.com/prometheus/client_golang/prometheus"

const (
	Namespace = "sandbox"

	SubsystemInterface   = "interface"
	SubsystemModuleCache = "module_cache"
	SubsystemEngine      = "engine"
	SubsystemAsyncPool   = "async_pool"

	LabelMethod    = "method"
	LabelStatus    = "status"
	LabelResult    = "result"
	LabelOperation = "operation"

	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// InterfaceCallCounter counts capability interface calls
	InterfaceCallCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemInterface,
			Name:      "call_total",
			Help:      "Total number of capability interface calls.",
		},
		[]string{LabelMethod, LabelStatus})

	// ModuleCacheCounter counts module lookups by result (hit, miss)
	ModuleCacheCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemModuleCache,
			Name:      "lookup_total",
			Help:      "Total number of module cache lookups.",
		},
		[]string{LabelResult})

	// ModuleCompileHistogram tracks module compilation latency
	ModuleCompileHistogram = prom.NewHistogramVec(
		prom.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemModuleCache,
			Name:      "compile_seconds",
			Help:      "Histogram of module compilation latency.",
			Buckets:   prom.DefBuckets,
		},
		[]string{LabelStatus})

	// ExecutionCounter counts executed operations and messages
	ExecutionCounter = prom.NewCounterVec(
		prom.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemEngine,
			Name:      "execution_total",
			Help:      "Total number of executed operations.",
		},
		[]string{LabelOperation, LabelStatus})

	// AsyncPoolGauge reports the number of pending async messages
	AsyncPoolGauge = prom.NewGauge(
		prom.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAsyncPool,
			Name:      "messages",
			Help:      "Number of pending async messages.",
		})
)

func init() {
	prom.MustRegister(InterfaceCallCounter)
	prom.MustRegister(ModuleCacheCounter)
	prom.MustRegister(ModuleCompileHistogram)
	prom.MustRegister(ExecutionCounter)
	prom.MustRegister(AsyncPoolGauge)
}

// Status returns the status label for err
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
