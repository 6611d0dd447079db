package environment

// Config holds the settings shared by the I2C drivers of this package.
type Config struct {
	Address byte
}

type Option func(*Config)

// WithAddress overrides the driver's default 7-bit bus address. Zero keeps
// the default.
func WithAddress(address byte) Option {
	return func(c *Config) {
		if address != 0 {
			c.Address = address
		}
	}
}

func newConfig(defaultAddress byte, opts []Option) Config {
	config := Config{Address: defaultAddress}
	for _, opt := range opts {
		opt(&config)
	}
	return config
}
