package crowdfund

const (
	operationLaunch     = "launch"
	operationCancel     = "cancel"
	operationContribute = "contribute"
	operationWithdraw   = "withdraw_pledge"
	operationClaim      = "claim_funds"
	operationRefund     = "get_refund"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// Campaigns may run for at most 90 days past launch time.
	maxCampaignDurationSeconds int64 = 90 * 24 * 60 * 60
)
