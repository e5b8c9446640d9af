package app

import (
	"go.uber.org/zap"

	"github.com/a-marczewski/mnemo/internal/assemble"
	"github.com/a-marczewski/mnemo/internal/config"
	"github.com/a-marczewski/mnemo/internal/memory"
	"github.com/a-marczewski/mnemo/internal/recall"
	"github.com/a-marczewski/mnemo/internal/reflect"
	"github.com/a-marczewski/mnemo/internal/store"
)

// CoreModule holds the shared infrastructure components.
type CoreModule struct {
	Config *config.Config
	Logger *zap.Logger
	Store  store.Store
}

// EngineModule holds the memory engine services.
type EngineModule struct {
	Memory       *memory.Service
	Recall       *recall.Engine
	Assembler    *assemble.Assembler
	Triggers     *reflect.Triggers
	Orchestrator *reflect.Orchestrator
}

// App groups the application's components.
type App struct {
	Core   CoreModule
	Engine EngineModule
}
