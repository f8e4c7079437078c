package config

// DBConfig contains PostgreSQL database configuration for the relational
// job store (internal/store/pgstore).
type DBConfig struct {
	Host     string `env:"HOST"                    envDefault:"localhost"`
	Port     int    `env:"PORT"                    envDefault:"5432"`
	User     string `env:"USER"                    envDefault:"chronos"`
	Password string `env:"PASSWORD"                envDefault:"chronos"`
	Name     string `env:"NAME"                    envDefault:"chronos"`
	SSLMode  string `env:"SSL_MODE"                envDefault:"disable"`
	// RunMigrationsOnStart controls whether the application automatically
	// applies the store's embedded migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}
