package scanner

import (
	"github.com/rs/zerolog"

	"github.com/yourorg/secuscan/internal/config"
	"github.com/yourorg/secuscan/internal/detect"
)

// Registry maps a project category to the scanners that apply to it.
type Registry struct {
	byCategory map[detect.Category][]Scanner
	global     []Scanner
}

func NewRegistry() *Registry {
	return &Registry{byCategory: map[detect.Category][]Scanner{}}
}

// Register adds a scanner for one category. Scanners registered for Unknown are never selected.
func (r *Registry) Register(cat detect.Category, s Scanner) {
	r.byCategory[cat] = append(r.byCategory[cat], s)
}

// RegisterGlobal adds a scanner that runs whatever the category.
func (r *Registry) RegisterGlobal(s Scanner) {
	r.global = append(r.global, s)
}

// Select returns the category scanners in registration order followed by the
// global ones. Unknown gets only the global scanners.
func (r *Registry) Select(cat detect.Category) []Scanner {
	var out []Scanner
	if cat != detect.Unknown {
		out = append(out, r.byCategory[cat]...)
	}
	return append(out, r.global...)
}

// All returns every registered scanner once.
func (r *Registry) All() []Scanner {
	var out []Scanner
	for _, cat := range []detect.Category{detect.Android, detect.Web} {
		out = append(out, r.byCategory[cat]...)
	}
	return append(out, r.global...)
}

// Default wires the stock scanners. sonar runs the SonarQube scanner image
// next to the SonarQube service.
func Default(cfg config.Config, sonar CommandRunner, log zerolog.Logger) *Registry {
	r := NewRegistry()
	r.Register(detect.Android, NewAndroidScanner())
	r.Register(detect.Android, NewMobSFScanner(NewMobSFClient(cfg.MobSFURL, cfg.MobSFAPIKey, log), log))
	r.Register(detect.Web, NewBanditScanner(cfg.BanditPath))
	r.RegisterGlobal(NewSonarQubeScanner(sonar, SonarQubeOptions{
		APIURL:   cfg.SonarURL,
		Token:    cfg.SonarToken,
		Login:    cfg.SonarLogin,
		Password: cfg.SonarPassword,
	}, log))
	r.RegisterGlobal(NewSecretScanner())
	return r
}
