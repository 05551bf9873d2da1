package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "LABWATCH"

type envBinding struct {
	key   string
	apply func(v *viper.Viper, key string, cfg *Config)
}

func str(field func(*Config) *string) func(*viper.Viper, string, *Config) {
	return func(v *viper.Viper, key string, cfg *Config) { *field(cfg) = v.GetString(key) }
}

func integer(field func(*Config) *int) func(*viper.Viper, string, *Config) {
	return func(v *viper.Viper, key string, cfg *Config) { *field(cfg) = v.GetInt(key) }
}

func boolean(field func(*Config) *bool) func(*viper.Viper, string, *Config) {
	return func(v *viper.Viper, key string, cfg *Config) { *field(cfg) = v.GetBool(key) }
}

var envBindings = []envBinding{
	{"role", str(func(c *Config) *string { return &c.General.Role })},
	{"server_addr", str(func(c *Config) *string { return &c.General.ServerAddr })},
	{"listen_addr", str(func(c *Config) *string { return &c.General.ListenAddr })},
	{"device_token", str(func(c *Config) *string { return &c.General.DeviceToken })},
	{"ui_enabled", boolean(func(c *Config) *bool { return &c.General.UIEnabled })},
	{"ui_addr", str(func(c *Config) *string { return &c.General.UIAddr })},
	{"database_dsn", str(func(c *Config) *string { return &c.Database.DSN })},
	{"redis_addr", str(func(c *Config) *string { return &c.Redis.Addr })},
	{"redis_password", str(func(c *Config) *string { return &c.Redis.Password })},
	{"redis_db", integer(func(c *Config) *int { return &c.Redis.DB })},
	{"jwt_secret", str(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"control_ttl_ms", integer(func(c *Config) *int { return &c.Relay.ControlTTLMillis })},
	{"send_queue", integer(func(c *Config) *int { return &c.Relay.SendQueue })},
	{"session_limit", integer(func(c *Config) *int { return &c.Relay.SessionLimit })},
	{"screencast_interval_ms", integer(func(c *Config) *int { return &c.Screencast.IntervalMillis })},
	{"screencast_quality", integer(func(c *Config) *int { return &c.Screencast.Quality })},
	{"hardware_address", str(func(c *Config) *string { return &c.Agent.HardwareAddress })},
	{"power_report", boolean(func(c *Config) *bool { return &c.Agent.PowerReport })},
	{"inject_input", boolean(func(c *Config) *bool { return &c.Agent.InjectInput })},
}

// ApplyEnv overlays LABWATCH_* environment variables on the loaded
// configuration, e.g. LABWATCH_DATABASE_DSN or LABWATCH_JWT_SECRET.
// Comma separated LABWATCH_ALLOW_ORIGINS replaces the origin list.
func (m *Manager) ApplyEnv() {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m.mu.Lock()
	cfg := *m.config
	for _, b := range envBindings {
		v.BindEnv(b.key)
		if v.IsSet(b.key) {
			b.apply(v, b.key, &cfg)
		}
	}
	v.BindEnv("allow_origins")
	if v.IsSet("allow_origins") {
		var origins []string
		for _, o := range strings.Split(v.GetString("allow_origins"), ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Relay.AllowOrigins = origins
	}
	m.config = &cfg
	m.mu.Unlock()
}
