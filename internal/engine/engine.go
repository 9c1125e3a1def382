// Package engine implements the ingestion, correlation, decision, and
// remediation pipeline over the store and safety fabric.
package engine

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"failsafe/internal/audit"
	"failsafe/internal/config"
	"failsafe/internal/engine/auth"
	"failsafe/internal/repo"
	"failsafe/internal/safety"
)

// Engine wires the store, audit trail, safety fabric, and classifier
// adapter into the operations the HTTP surface and CLI call.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time

	Breaker    *safety.Breaker
	Limiter    *safety.Limiter
	Budget     *safety.Budget
	Rules      *safety.Rules
	Classifier Classifier
}

// New wires an Engine from its config and open database, constructing the
// safety fabric's dependencies (breaker, limiter, budget, rules) from cfg.
func New(db *sql.DB, cfg *config.Config, counter safety.WindowCounter, window safety.SlidingWindow, classifier Classifier) Engine {
	r := repo.Repo{DB: db}
	now := time.Now
	if classifier == nil {
		classifier = RuleBasedClassifier{}
	}
	timeout := time.Duration(cfg.Safety.ClassifierTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	classifier = WithTimeout(classifier, timeout)
	return Engine{
		DB:         db,
		Repo:       r,
		Audit:      audit.Writer{DB: db, Now: now},
		Auth:       auth.Service{DB: db},
		Config:     cfg,
		Now:        now,
		Breaker:    safety.NewBreaker(r, now, safety.VendorDefaults{FailureThreshold: cfg.Safety.CircuitBreakerThreshold, CooldownSeconds: cfg.Safety.CircuitBreakerTimeoutSeconds, ProbeCap: 1}),
		Limiter:    safety.NewLimiter(window, now),
		Budget:     safety.NewBudget(counter, cfg.Safety.MaxRetriesPerWorkflow, cfg.Safety.MaxRetriesPerVendor),
		Rules:      safety.NewRules(cfg),
		Classifier: classifier,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.New().String()
}
