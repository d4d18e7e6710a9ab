package suite

import (
	"os"
	"testing"

	"github.com/mkarppi/mcpdrive/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	if err := logger.Init(os.DevNull); err != nil {
		os.Exit(1)
	}

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}
