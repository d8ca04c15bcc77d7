package model

// OperationKind names a command that may run asynchronously.
type OperationKind string

const (
	OpFill        OperationKind = "fill"
	OpFillR       OperationKind = "fillr"
	OpSet         OperationKind = "set"
	OpReplace     OperationKind = "replace"
	OpOverlay     OperationKind = "overlay"
	OpWalls       OperationKind = "walls"
	OpOutline     OperationKind = "outline"
	OpSmooth      OperationKind = "smooth"
	OpMove        OperationKind = "move"
	OpStack       OperationKind = "stack"
	OpPaste       OperationKind = "paste"
	OpRegen       OperationKind = "regen"
	OpDrain       OperationKind = "drain"
	OpFixWater    OperationKind = "fixwater"
	OpFixLava     OperationKind = "fixlava"
	OpSnow        OperationKind = "snow"
	OpThaw        OperationKind = "thaw"
	OpGreen       OperationKind = "green"
	OpForest      OperationKind = "forest"
	OpSphere      OperationKind = "sphere"
	OpCylinder    OperationKind = "cylinder"
	OpPyramid     OperationKind = "pyramid"
	OpUndo        OperationKind = "undo"
	OpRedo        OperationKind = "redo"
	OpRemoveAbove OperationKind = "removeabove"
	OpRemoveBelow OperationKind = "removebelow"
	OpRemoveNear  OperationKind = "removenear"
	OpReplaceNear OperationKind = "replacenear"
)

// Stage selects how deep in the write chain a stage-aware write enters.
type Stage int

const (
	// StageBeforeReorder enters at the top of the chain.
	StageBeforeReorder Stage = iota
	// StageBeforeChange skips reordering.
	StageBeforeChange
	// StageBeforeHistory skips change accounting, so it is not charged to the change budget.
	StageBeforeHistory
)

var knownOperations = map[OperationKind]struct{}{
	OpFill: {}, OpFillR: {}, OpSet: {}, OpReplace: {}, OpOverlay: {}, OpWalls: {},
	OpOutline: {}, OpSmooth: {}, OpMove: {}, OpStack: {}, OpPaste: {}, OpRegen: {},
	OpDrain: {}, OpFixWater: {}, OpFixLava: {}, OpSnow: {}, OpThaw: {}, OpGreen: {},
	OpForest: {}, OpSphere: {}, OpCylinder: {}, OpPyramid: {}, OpUndo: {}, OpRedo: {},
	OpRemoveAbove: {}, OpRemoveBelow: {}, OpRemoveNear: {}, OpReplaceNear: {},
}

// Known reports whether k names one of the built-in operations.
func (k OperationKind) Known() bool {
	_, ok := knownOperations[k]
	return ok
}
