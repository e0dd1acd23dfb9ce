// Package config builds the process-wide RuntimeContext (spec §9 "Global
// state") from a config file, environment variables, and defaults, and
// watches the file for changes so integration settings and provider
// credentials can be hot-reloaded without a restart.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ProviderCredential is one configured LLM provider's API key/endpoint pair.
type ProviderCredential struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// RuntimeContext is the process-wide configuration snapshot threaded
// through scheduler/dispatch/rag constructors instead of read from
// globals (spec §9).
type RuntimeContext struct {
	EnabledProviders  []string
	DefaultModelID    string
	ProviderCreds     map[string]ProviderCredential
	DispatchNamespace string
	DispatchImage     string
	MaxNodeExecutions int
	CancelGrace       time.Duration
	RAGHost           string
	RAGPort           int
}

func (rc *RuntimeContext) load(v *viper.Viper) {
	rc.EnabledProviders = v.GetStringSlice("providers.enabled")
	rc.DefaultModelID = v.GetString("providers.default_model_id")
	rc.DispatchNamespace = v.GetString("dispatch.namespace")
	rc.DispatchImage = v.GetString("dispatch.image")
	rc.MaxNodeExecutions = v.GetInt("scheduler.max_node_executions")
	rc.CancelGrace = v.GetDuration("scheduler.cancel_grace")
	rc.RAGHost = v.GetString("rag.host")
	rc.RAGPort = v.GetInt("rag.port")

	creds := make(map[string]ProviderCredential, len(rc.EnabledProviders))
	for _, p := range rc.EnabledProviders {
		key := strings.ToLower(p)
		creds[p] = ProviderCredential{
			Provider: p,
			APIKey:   v.GetString(fmt.Sprintf("providers.%s.api_key", key)),
			BaseURL:  v.GetString(fmt.Sprintf("providers.%s.base_url", key)),
		}
	}
	rc.ProviderCreds = creds
}

// Loader owns the viper instance and the RuntimeContext built from it,
// guarding reloads with a mutex so OnConfigChange callbacks can't race a
// concurrent Snapshot call.
type Loader struct {
	v *viper.Viper

	mu  sync.RWMutex
	ctx RuntimeContext
}

// NewLoader builds a Loader reading configFile if non-empty (else
// searching ./flowruntime.yaml and $HOME/flowruntime.yaml), overlaying
// FLOWRUNTIME_-prefixed environment variables, and applying defaults.
func NewLoader(configFile string) (*Loader, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOWRUNTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("providers.enabled", []string{})
	v.SetDefault("scheduler.max_node_executions", 500)
	v.SetDefault("scheduler.cancel_grace", 30*time.Second)
	v.SetDefault("dispatch.namespace", "default")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("flowruntime")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	l := &Loader{v: v}
	l.ctx.load(v)
	return l, nil
}

// Snapshot returns the current RuntimeContext. Safe to call concurrently
// with a config-file reload.
func (l *Loader) Snapshot() RuntimeContext {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx
}

// WatchAndReload starts watching the loaded config file for writes and
// rebuilds the RuntimeContext on change, invoking onChange (if non-nil)
// with the new snapshot. No-op if no config file was found.
func (l *Loader) WatchAndReload(onChange func(RuntimeContext)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.mu.Lock()
		l.ctx.load(l.v)
		updated := l.ctx
		l.mu.Unlock()
		if onChange != nil {
			onChange(updated)
		}
	})
	l.v.WatchConfig()
}
