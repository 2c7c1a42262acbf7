package advancedmd

import (
	"context"
	"errors"

	"github.com/wolfman30/responsibility-agent/internal/emr"
)

const (
	memoTypeDemographic = "d"
	memoDateLayout      = "01/02/2006"
)

// PostMemo saves a demographic memo on the patient record. Failures other
// than an unrecoverable session are returned as *emr.PostError.
func (c *Client) PostMemo(ctx context.Context, memo emr.Memo) (*emr.MemoAck, error) {
	const op = "post memo"
	if c.dryRun {
		c.logger.Info("memo not posted (dry run)",
			"patient_id", memo.PatientID,
			"insurance_id", memo.InsuranceID,
			"memo", memo.Text,
			"amount_cents", memo.AmountCents,
		)
		return &emr.MemoAck{PatientID: memo.PatientID, InsuranceID: memo.InsuranceID, PostedAt: c.now(), DryRun: true}, nil
	}

	err := c.withSession(ctx, "post_memo", func(ctx context.Context) error {
		msg := c.envelope("savememo", "demographics", map[string]any{
			"@patientfid":    memo.PatientID,
			"@created":       c.now().Format(memoDateLayout),
			"@case_memotext": memo.Text,
			"@memotype":      memoTypeDemographic,
			"@expiredate":    "",
		})
		root, err := c.postXML(ctx, c.memoTimeout, msg, op)
		if err != nil {
			return err
		}
		results := root.find("Results")
		if results == nil || results.attr("success") != "1" {
			return errors.New("memo not acknowledged")
		}
		return nil
	})
	if err != nil {
		if emr.IsAuthError(err) {
			return nil, err
		}
		return nil, &emr.PostError{PatientID: memo.PatientID, InsuranceID: memo.InsuranceID, Err: err}
	}

	c.logger.Info("posted memo", "patient_id", memo.PatientID, "insurance_id", memo.InsuranceID, "memo", memo.Text)
	return &emr.MemoAck{PatientID: memo.PatientID, InsuranceID: memo.InsuranceID, PostedAt: c.now()}, nil
}
