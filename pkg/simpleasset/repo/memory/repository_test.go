package memory_test

import (
	"testing"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/repotest"
)

func TestRepositoryContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) simpleasset.Repository {
		return memory.New()
	})
}
