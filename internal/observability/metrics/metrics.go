// Package metrics define las métricas Prometheus del servicio y el handler /metrics.
// Las métricas existen desde el arranque del proceso; Register solo las publica
// en el registry, así los Record* son seguros aunque nadie haya llamado Register.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/hellojohn-identity/internal/store"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Número total de requests procesadas",
	}, []string{"method", "path", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de los requests HTTP",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// Account linking
	linkingOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accountlinking_operations_total",
		Help: "Operaciones de account linking por resultado",
	}, []string{"op", "result"})

	linkingOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accountlinking_operation_duration_seconds",
		Help:    "Duración de operaciones de account linking",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// Bulk import
	bulkUsersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkimport_users_total",
		Help: "Usuarios procesados por el job de bulk import por resultado",
	}, []string{"result"}) // result: imported|failed|retry

	bulkBatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bulkimport_batch_duration_seconds",
		Help:    "Duración de un lote de bulk import",
		Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
	})

	// Jobs
	jobRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_runs_total",
		Help: "Ejecuciones de jobs en background por resultado",
	}, []string{"job", "result"}) // result: ok|error|panic

	jobRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobs_run_duration_seconds",
		Help:    "Duración de una ejecución de job",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})

	// Migraciones
	migrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_migrations_total",
		Help: "Migraciones de storage por user pool y resultado",
	}, []string{"pool", "result"}) // result: applied|skipped|failed
)

// Config agrupa dependencias para exponer /metrics.
type Config struct {
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer

	// Storages opcional: expone la cantidad de storages abiertos por el cache.
	Storages *store.StorageCache
}

// Register publica las métricas y devuelve el handler para /metrics.
// Registrar dos veces en el mismo registry no es error.
func Register(cfg Config) (http.Handler, error) {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	collectors := []prometheus.Collector{
		httpRequestsTotal, httpRequestDuration,
		linkingOpsTotal, linkingOpDuration,
		bulkUsersTotal, bulkBatchDuration,
		jobRunsTotal, jobRunDuration,
		migrationsTotal,
	}
	if cfg.Storages != nil {
		collectors = append(collectors, newStorageCollector(cfg.Storages))
	}
	for _, c := range collectors {
		if err := registerCollector(registry, c); err != nil {
			return nil, err
		}
	}

	if cfg.Gatherer != nil {
		return promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

// registerCollector registra el collector ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// RecordLinkingOp registra una operación de account linking.
// result es "ok" o el kind de error.
func RecordLinkingOp(op, result string, d time.Duration) {
	linkingOpsTotal.WithLabelValues(op, result).Inc()
	linkingOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordBulkUsers suma n usuarios al resultado dado.
func RecordBulkUsers(result string, n int) {
	if n > 0 {
		bulkUsersTotal.WithLabelValues(result).Add(float64(n))
	}
}

// ObserveBulkBatch registra la duración de un lote.
func ObserveBulkBatch(d time.Duration) {
	bulkBatchDuration.Observe(d.Seconds())
}

// RecordJobRun registra una ejecución de job.
func RecordJobRun(job, result string, d time.Duration) {
	jobRunsTotal.WithLabelValues(job, result).Inc()
	jobRunDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordMigration registra el resultado de migrar un user pool.
func RecordMigration(pool, result string, n int) {
	if n > 0 {
		migrationsTotal.WithLabelValues(pool, result).Add(float64(n))
	}
}

// ─── HTTP ───

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithMetrics instrumenta requests HTTP con contador y latencia.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		pathLabel := normalizePath(r.URL.Path)
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			httpRequestDuration.WithLabelValues(method, pathLabel).Observe(time.Since(start).Seconds())
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			httpRequestsTotal.WithLabelValues(method, pathLabel, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(rec, r)
	})
}

var (
	appIDSegmentRE = regexp.MustCompile(`^appid-.+$`)
	uuidSegmentRE  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F-]{4}-[0-9a-fA-F-]{4,}$`)
	hexSegmentRE   = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
)

// normalizePath reemplaza segmentos dinámicos para acotar la cardinalidad.
func normalizePath(p string) string {
	clean := strings.SplitN(p, "?", 2)[0]
	var out []string
	for _, seg := range strings.Split(clean, "/") {
		switch {
		case seg == "":
			continue
		case appIDSegmentRE.MatchString(seg):
			out = append(out, "appid-:app")
		case len(seg) > 48 || uuidSegmentRE.MatchString(seg) || hexSegmentRE.MatchString(seg):
			out = append(out, ":param")
		default:
			if _, err := strconv.Atoi(seg); err == nil {
				out = append(out, ":param")
				continue
			}
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

// ─── Storage collector ───

// storageCollector expone los storages abiertos por el StorageCache.
type storageCollector struct {
	cache    *store.StorageCache
	openDesc *prometheus.Desc
	idleDesc *prometheus.Desc
}

func newStorageCollector(c *store.StorageCache) *storageCollector {
	return &storageCollector{
		cache:    c,
		openDesc: prometheus.NewDesc("storage_cache_open", "Storages abiertos en el cache", nil, nil),
		idleDesc: prometheus.NewDesc("storage_cache_idle_seconds", "Segundos desde el último uso por user pool", []string{"pool", "driver"}, nil),
	}
}

func (c *storageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openDesc
	ch <- c.idleDesc
}

func (c *storageCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.openDesc, prometheus.GaugeValue, float64(stats.TotalOpen))
	for _, s := range stats.Storages {
		ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, time.Since(s.LastUsedAt).Seconds(), s.PoolID, s.Driver)
	}
}
