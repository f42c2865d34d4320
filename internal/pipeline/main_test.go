package pipeline

import (
	"os"
	"testing"

	"insight-vault-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}
