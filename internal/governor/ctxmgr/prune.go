package ctxmgr

import "github.com/haasonsaas/vassal/pkg/models"

// PruneUnimportant is deliberately unimplemented. Dropping turns by an
// importance score needs a ranking policy nothing upstream defines yet;
// until one exists, invoking this is a caller error rather than a silent
// no-op.
func PruneUnimportant(turns []models.ConversationTurn, threshold float64) (ShiftResult, *models.Error) {
	return ShiftResult{}, models.NewError(models.ErrInvalidArgument, "prune_unimportant is not implemented")
}
