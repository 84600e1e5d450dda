package ndmpproxy

import (
	"fmt"
	"io"
	"reflect"

	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics collects the VictoriaMetrics counters/histograms exposed by
// Server, grounded on api0.apiMetrics's sync.Once-guarded lazy init and
// reflect-based completeness check.
type serverMetrics struct {
	set                               *metrics.Set
	conns_accepted_total              *metrics.Counter
	conns_rejected_nonloopback_total  *metrics.Counter
	conns_active                      *metrics.Gauge
	select_service_requests_total     struct {
		success           func(service string) *metrics.Counter
		reject_busy       func(service string) *metrics.Counter
		reject_illegal    *metrics.Counter
	}
	tape_open_requests_total struct {
		success *metrics.Counter
		failure *metrics.Counter
	}
	tape_read_bytes    *metrics.Histogram
	tape_write_bytes   *metrics.Histogram
}

// WritePrometheus writes the server's metrics in Prometheus text exposition
// format, matching the WritePrometheus convention used across the example
// pack's VictoriaMetrics consumers.
func (s *Server) WritePrometheus(w io.Writer) {
	s.m().set.WritePrometheus(w)
}

func (s *Server) m() *serverMetrics {
	s.metricsO.Do(func() {
		mo := &serverMetrics{}
		mo.set = metrics.NewSet()
		mo.conns_accepted_total = mo.set.NewCounter(`ndmpproxy_conns_accepted_total`)
		mo.conns_rejected_nonloopback_total = mo.set.NewCounter(`ndmpproxy_conns_rejected_total{reason="nonloopback"}`)
		mo.conns_active = mo.set.NewGauge(`ndmpproxy_conns_active`, nil)
		mo.select_service_requests_total.success = func(service string) *metrics.Counter {
			if service == "" {
				panic("invalid service")
			}
			return mo.set.GetOrCreateCounter(`ndmpproxy_select_service_requests_total{result="success",service="` + service + `"}`)
		}
		mo.select_service_requests_total.reject_busy = func(service string) *metrics.Counter {
			if service == "" {
				panic("invalid service")
			}
			return mo.set.GetOrCreateCounter(`ndmpproxy_select_service_requests_total{result="reject_busy",service="` + service + `"}`)
		}
		for _, svc := range []string{ServiceDevice, ServiceApplication, ServiceChanger} {
			mo.select_service_requests_total.success(svc)
			mo.select_service_requests_total.reject_busy(svc)
		}
		mo.select_service_requests_total.reject_illegal = mo.set.NewCounter(`ndmpproxy_select_service_requests_total{result="reject_illegal",service="unknown"}`)
		mo.tape_open_requests_total.success = mo.set.NewCounter(`ndmpproxy_tape_open_requests_total{result="success"}`)
		mo.tape_open_requests_total.failure = mo.set.NewCounter(`ndmpproxy_tape_open_requests_total{result="failure"}`)
		mo.tape_read_bytes = mo.set.NewHistogram(`ndmpproxy_tape_read_bytes`)
		mo.tape_write_bytes = mo.set.NewHistogram(`ndmpproxy_tape_write_bytes`)
		s.metrics = mo

		if s.Session != nil {
			s.Session.OnSelectService = func(service string, busy bool) {
				if busy {
					mo.select_service_requests_total.reject_busy(service).Inc()
				} else {
					mo.select_service_requests_total.success(service).Inc()
				}
			}
			s.Session.OnSelectServiceIllegal = func() {
				mo.select_service_requests_total.reject_illegal.Inc()
			}
			s.Session.OnTapeOpen = func(success bool) {
				if success {
					mo.tape_open_requests_total.success.Inc()
				} else {
					mo.tape_open_requests_total.failure.Inc()
				}
			}
			s.Session.OnTapeRead = func(n int) { mo.tape_read_bytes.Update(float64(n)) }
			s.Session.OnTapeWrite = func(n int) { mo.tape_write_bytes.Update(float64(n)) }
		}
	})

	var chk func(v reflect.Value, name string)
	chk = func(v reflect.Value, name string) {
		switch v.Kind() {
		case reflect.Struct:
			for i := 0; i < v.NumField(); i++ {
				chk(v.Field(i), name+"."+v.Type().Field(i).Name)
			}
		case reflect.Pointer, reflect.Func:
			if v.IsNil() {
				panic(fmt.Errorf("check metrics: unexpected nil %q", name))
			}
		}
	}
	chk(reflect.ValueOf(*s.metrics), "serverMetrics")

	return s.metrics
}
