//go:build !gcp

package blob

import (
	"context"
	"fmt"
)

func newGCSFromEnv(_ context.Context) (Store, error) {
	return nil, fmt.Errorf("GCS storage requires building with the gcp tag")
}
