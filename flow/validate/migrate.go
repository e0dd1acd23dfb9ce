package validate

import (
	"context"

	"github.com/llmctl/flowruntime/flow"
)

// MigrationResult reports whether a migration pass actually changed fc and
// the pre/post validation outcome.
type MigrationResult struct {
	BeforeHash string
	AfterHash  string
	Changed    bool
	Result     Result
	Applied    bool
}

// Migrate runs Transform then Validate against fc (spec §4.7). Migration is
// idempotent: before_hash == after_hash implies no writes were needed. If
// the compatibility gate reports any error-severity finding, the migration
// is not ready and Applied is false — callers must not persist fc in that
// case (rollback: no writes applied).
func Migrate(ctx context.Context, fc *flow.Flowchart) (MigrationResult, error) {
	before := Hash(fc)
	Transform(fc)
	after := Hash(fc)

	res, err := Validate(ctx, fc)
	if err != nil {
		return MigrationResult{BeforeHash: before, AfterHash: after}, err
	}

	mr := MigrationResult{
		BeforeHash: before,
		AfterHash:  after,
		Changed:    before != after,
		Result:     res,
		Applied:    res.OK(),
	}
	return mr, nil
}
