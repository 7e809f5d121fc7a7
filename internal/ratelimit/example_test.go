package ratelimit_test

import (
	"context"
	"fmt"
	"time"

	"apisim/internal/ratelimit"
)

func ExampleNewThrottle() {
	// Space submissions 5ms apart.
	th := ratelimit.NewThrottle(5 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := th.Wait(context.Background()); err != nil {
			fmt.Println("Context cancelled")
			return
		}
	}
	fmt.Printf("spaced: %v\n", time.Since(start) >= 9*time.Millisecond)
	// Output: spaced: true
}
