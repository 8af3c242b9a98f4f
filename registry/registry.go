// Package registry provides optional etcd-backed service naming: a server
// registers its listening locator under a service name, and clients
// discover/watch that name instead of hardcoding host:port. This is the
// corpus's usual naming layer, adapted to the transport's locator strings
// rather than bare addresses.
package registry

// Instance is one registered server locator under a service name.
type Instance struct {
	Locator string `json:"locator"`
	Weight  int    `json:"weight"`
}

// Namer is the naming service interface the transport depends on. Servers
// call Register/Deregister around their listening lifetime; clients call
// Discover/Watch to resolve a service name to locators.
type Namer interface {
	Register(serviceName string, inst Instance, ttlSeconds int64) error
	Deregister(serviceName, locator string) error
	Discover(serviceName string) ([]Instance, error)
	Watch(serviceName string) <-chan []Instance
}

// Config describes how to reach the naming backend. A nil *Config (in
// config.Config.Register) means naming is disabled for that instance.
type Config struct {
	Endpoints []string `yaml:"endpoints"`
	TTL       int64    `yaml:"ttl"` // seconds
}
