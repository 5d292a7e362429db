package app

import (
	"os"
	"os/signal"

	"github.com/gaborage/tunecache/cache"
	"github.com/gaborage/tunecache/config"
	"github.com/gaborage/tunecache/database"
	"github.com/gaborage/tunecache/logger"
)

// SignalHandler allows injectable signal handling for testing
type SignalHandler interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osSignalHandler struct{}

func (osSignalHandler) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osSignalHandler) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// StoreConnector opens the key-value store backing the cache and sessions.
type StoreConnector func(cfg *config.RedisConfig, log logger.Logger) (cache.Store, error)

// DatabaseConnector opens the catalog database.
type DatabaseConnector func(cfg *config.DatabaseConfig, log logger.Logger) (database.Interface, error)
