package domain

// ValidateCommit checks a proposed layer commit against the case's current
// state. It enforces, in order:
//
//	(a) stage is the next layer in the fixed order given current status,
//	(b) the submitted items carry the payload shape of that stage, with
//	    unique IDs and scores inside [0,1],
//	(c) every backward reference resolves to an item in an earlier,
//	    already-completed layer of the same case.
//
// The expected-prior-status check is applied separately by the store as a
// compare-and-swap at write time; ValidateCommit is pure and touches nothing.
func ValidateCommit(c *Case, stage Stage, items []LayerItem, expectedPrior CaseStatus) error {
	if RunningStatus(stage) != expectedPrior {
		return NewValidationError("layer", "stage %s cannot commit from status %s", stage, expectedPrior)
	}

	next, ok := c.NextStage()
	if !ok {
		return NewValidationError("layer", "all layers already committed")
	}
	if next != stage {
		return NewValidationError("layer", "stage %s committed out of order, next is %s", stage, next)
	}
	for _, earlier := range EarlierStages(stage) {
		if !c.LayerFor(earlier).Complete {
			return NewValidationError("layer", "upstream layer %s not complete", earlier)
		}
	}

	if len(items) == 0 {
		return NewValidationError("items", "stage %s produced no items", stage)
	}

	// Index of item IDs resolvable by backward references.
	upstream := make(map[string]bool)
	for _, earlier := range EarlierStages(stage) {
		for _, it := range c.LayerFor(earlier).Items {
			upstream[it.ID] = true
		}
	}

	seen := make(map[string]bool, len(items))
	for i := range items {
		if err := validateItem(&items[i], stage, seen, upstream); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(it *LayerItem, stage Stage, seen, upstream map[string]bool) error {
	if it.ID == "" {
		return NewValidationError("item_id", "missing item identifier")
	}
	if seen[it.ID] {
		return NewValidationError(it.ID, "duplicate item identifier within layer")
	}
	seen[it.ID] = true

	payloadStage, ok := it.PayloadStage()
	if !ok {
		return NewValidationError(it.ID, "item must carry exactly one payload")
	}
	if payloadStage != stage {
		return NewValidationError(it.ID, "item carries %s payload in %s layer", payloadStage, stage)
	}

	switch stage {
	case StageFoundation:
		if it.Event.Term == "" {
			return NewValidationError(it.ID, "extracted event missing term")
		}
		if it.Event.Confidence < 0 || it.Event.Confidence > 1 {
			return NewValidationError(it.ID, "confidence %f outside [0,1]", it.Event.Confidence)
		}
		if len(it.Refs) != 0 {
			return NewValidationError(it.ID, "foundation items cannot carry backward references")
		}
	case StageStrategic:
		if it.Risk.RiskLevel == "" {
			return NewValidationError(it.ID, "risk assessment missing risk level")
		}
		if it.Risk.Score < 0 || it.Risk.Score > 1 {
			return NewValidationError(it.ID, "score %f outside [0,1]", it.Risk.Score)
		}
		if len(it.Refs) == 0 {
			return NewValidationError(it.ID, "strategic items require at least one backward reference")
		}
	case StageSynthesis:
		if it.Alert.AlertType == "" || it.Alert.Recommendation == "" {
			return NewValidationError(it.ID, "safety alert missing type or recommendation")
		}
		if it.Alert.Score < 0 || it.Alert.Score > 1 {
			return NewValidationError(it.ID, "score %f outside [0,1]", it.Alert.Score)
		}
		if len(it.Refs) == 0 {
			return NewValidationError(it.ID, "synthesis items require at least one backward reference")
		}
	}

	for _, ref := range it.Refs {
		if !upstream[ref] {
			return NewValidationError(it.ID, "backward reference %s does not resolve to a committed upstream item", ref)
		}
	}
	return nil
}
