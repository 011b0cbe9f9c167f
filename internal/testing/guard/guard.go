package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CULTIVA_TEST_MODE") == "" {
			_ = os.Setenv("CULTIVA_TEST_MODE", "1")
		}
	})
}
