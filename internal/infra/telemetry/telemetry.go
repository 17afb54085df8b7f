package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// AuthMetrics holds the counters describing the authentication flows.
type AuthMetrics struct {
	otpIssued     *prometheus.CounterVec
	otpVerified   *prometheus.CounterVec
	logins        *prometheus.CounterVec
	rotations     *prometheus.CounterVec
	reuseDetected prometheus.Counter
	pinLockouts   prometheus.Counter
	mailFailures  *prometheus.CounterVec
	eventFailures *prometheus.CounterVec
}

// NewAuthMetrics registers the auth collectors with reg, reusing collectors that are
// already registered under the same name.
func NewAuthMetrics(reg prometheus.Registerer) (*AuthMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	m := &AuthMetrics{}

	if m.otpIssued, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_issued_total",
		Help:      "One-time codes issued, by purpose.",
	}, []string{"purpose"})); err != nil {
		return nil, err
	}
	if m.otpVerified, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "otp_verifications_total",
		Help:      "One-time code verification attempts, by purpose and result.",
	}, []string{"purpose", "result"})); err != nil {
		return nil, err
	}
	if m.logins, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Completed login attempts, by method and result.",
	}, []string{"method", "result"})); err != nil {
		return nil, err
	}
	if m.rotations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_rotations_total",
		Help:      "Refresh token rotations, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.reuseDetected, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_reuse_detected_total",
		Help:      "Replays of revoked refresh tokens.",
	})); err != nil {
		return nil, err
	}
	if m.pinLockouts, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pin_lockouts_total",
		Help:      "Accounts locked after repeated PIN failures.",
	})); err != nil {
		return nil, err
	}
	if m.mailFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mail_failures_total",
		Help:      "Messages that could not be delivered, by kind.",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if m.eventFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_failures_total",
		Help:      "Domain events that failed to reach the broker, by topic.",
	}, []string{"topic"})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (m *AuthMetrics) OTPIssued(purpose string) {
	m.otpIssued.WithLabelValues(purpose).Inc()
}

func (m *AuthMetrics) OTPVerified(purpose, result string) {
	m.otpVerified.WithLabelValues(purpose, result).Inc()
}

func (m *AuthMetrics) LoginCompleted(method, result string) {
	m.logins.WithLabelValues(method, result).Inc()
}

func (m *AuthMetrics) RefreshRotated(result string) {
	m.rotations.WithLabelValues(result).Inc()
}

func (m *AuthMetrics) RefreshReuseDetected() {
	m.reuseDetected.Inc()
}

func (m *AuthMetrics) PINLocked() {
	m.pinLockouts.Inc()
}

func (m *AuthMetrics) MailFailed(kind string) {
	m.mailFailures.WithLabelValues(kind).Inc()
}

func (m *AuthMetrics) EventPublishFailed(topic string) {
	m.eventFailures.WithLabelValues(topic).Inc()
}
