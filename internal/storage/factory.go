package storage

import (
	"fmt"
)

// Engine types accepted by Open.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
)

// Options selects and configures an engine.
type Options struct {
	Engine      string
	DataDir     string
	CachePolicy string
	CacheSize   int
}

// Open builds the engine described by opts, wrapped in a read cache when a
// cache policy other than "none" is set.
func Open(opts Options) (Engine, error) {
	var engine Engine
	switch opts.Engine {
	case EngineMemory, "":
		engine = NewMemoryEngine()
	case EngineBadger:
		if opts.DataDir == "" {
			return nil, fmt.Errorf("badger engine requires a data directory")
		}
		be, err := NewBadgerEngine(opts.DataDir)
		if err != nil {
			return nil, err
		}
		engine = be
	default:
		return nil, fmt.Errorf("unsupported engine type: %s", opts.Engine)
	}

	if opts.CachePolicy == "" || opts.CachePolicy == CacheNone || opts.CacheSize <= 0 {
		return engine, nil
	}
	cached, err := NewCachedEngine(engine, opts.CachePolicy, opts.CacheSize)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return cached, nil
}
