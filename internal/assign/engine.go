// Package assign splits a store's cart into per-branch groups.
//
// The heuristic is greedy first-fit: an item goes to the first branch, in
// order of first use, that can fulfil it; otherwise to the first eligible
// branch. It does not search for the grouping with the fewest orders.
package assign

import (
	"context"
	"fmt"

	"github.com/ariefcatur/marketplace-fulfillment/internal/domain"
)

// Availability answers which branches can fulfil a variant line.
type Availability interface {
	EligibleBranches(ctx context.Context, storeID, variantID string, qty int) ([]string, error)
}

// Branches lists active branches of a store, in creation order. Items without a
// variant carry no stock record and may ship from any of them.
type Branches interface {
	ActiveBranches(ctx context.Context, storeID string) ([]string, error)
}

type Engine struct {
	stock    Availability
	branches Branches
}

func New(stock Availability, branches Branches) *Engine {
	return &Engine{stock: stock, branches: branches}
}

// Assign partitions items of one store into branch groups. Availability is read
// once per item; the caller must re-validate it when reserving, because stock
// may move between this read and the reservation.
func (e *Engine) Assign(ctx context.Context, storeID string, items []domain.DemandItem) ([]domain.BranchGroup, error) {
	const op = "assign.branches"
	if len(items) == 0 {
		return nil, domain.InvalidInput(op, "no items to assign")
	}

	eligible := make([][]string, len(items))
	var storeBranches []string
	for i, it := range items {
		if it.Quantity <= 0 {
			return nil, domain.InvalidInput(op, fmt.Sprintf("quantity for product %s must be positive", it.ProductID))
		}
		if it.VariantID == "" {
			if storeBranches == nil {
				ids, err := e.branches.ActiveBranches(ctx, storeID)
				if err != nil {
					return nil, fmt.Errorf("%s: list branches: %w", op, err)
				}
				storeBranches = ids
			}
			if len(storeBranches) == 0 {
				return nil, &domain.Error{
					Op:        op,
					Kind:      domain.KindNoBranchAvailable,
					Message:   fmt.Sprintf("store %s has no active branch for product %s", storeID, it.ProductID),
					Requested: it.Quantity,
				}
			}
			eligible[i] = storeBranches
			continue
		}
		ids, err := e.stock.EligibleBranches(ctx, storeID, it.VariantID, it.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if len(ids) == 0 {
			return nil, domain.NoBranchAvailable(op, it.VariantID, it.Quantity)
		}
		eligible[i] = ids
	}

	return group(items, eligible), nil
}

// group assigns each item to the first already-used branch it is eligible for,
// else to its first eligible branch.
func group(items []domain.DemandItem, eligible [][]string) []domain.BranchGroup {
	var used []string
	byBranch := map[string]int{}
	var groups []domain.BranchGroup

	for i, it := range items {
		ok := make(map[string]bool, len(eligible[i]))
		for _, b := range eligible[i] {
			ok[b] = true
		}

		chosen := ""
		for _, b := range used {
			if ok[b] {
				chosen = b
				break
			}
		}
		if chosen == "" {
			chosen = eligible[i][0]
			used = append(used, chosen)
			byBranch[chosen] = len(groups)
			groups = append(groups, domain.BranchGroup{BranchID: chosen})
		}
		g := &groups[byBranch[chosen]]
		g.Items = append(g.Items, it)
	}
	return groups
}
