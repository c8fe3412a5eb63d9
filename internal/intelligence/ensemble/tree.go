package ensemble

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// treeNode mirrors one node of an XGBoost JSON dump (Booster.dump_model with
// dump_format="json").  Leaves carry Leaf; splits carry the rest.
type treeNode struct {
	NodeID         int         `json:"nodeid"`
	Split          string      `json:"split"`
	SplitCondition float64     `json:"split_condition"`
	Yes            int         `json:"yes"`
	No             int         `json:"no"`
	Missing        int         `json:"missing"`
	Leaf           *float64    `json:"leaf"`
	Children       []*treeNode `json:"children"`
}

// boosterFile is the on-disk booster: the dumped trees plus the base score.
type boosterFile struct {
	BaseScore float64     `json:"base_score"`
	Trees     []*treeNode `json:"trees"`
}

// flatNode is a compiled node; feature indexes the scored table's columns.
type flatNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	yes, no   int
	missing   int
}

type flatTree []flatNode

// Booster is a gradient-boosted regression tree ensemble.
type Booster struct {
	BaseScore float64
	trees     []*treeNode
}

// LoadBooster reads an XGBoost JSON booster dump.
func LoadBooster(path string) (*Booster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelNotAvailable, "cannot read booster").WithDetail(path)
	}
	var f boosterFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelLoadFailed, "malformed booster dump").WithDetail(path)
	}
	if len(f.Trees) == 0 {
		return nil, errors.New(errors.ErrCodeModelLoadFailed, "booster has no trees").WithDetail(path)
	}
	return &Booster{BaseScore: f.BaseScore, trees: f.Trees}, nil
}

// NumTrees returns the number of boosting rounds.
func (b *Booster) NumTrees() int { return len(b.trees) }

// Predict scores every row of t in one pass.  Split features are resolved
// against t's column names, falling back to XGBoost's positional "f<N>" names.
func (b *Booster) Predict(t *features.Table) ([]float64, error) {
	compiled := make([]flatTree, len(b.trees))
	for i, root := range b.trees {
		ft, err := compile(root, t.Columns)
		if err != nil {
			return nil, err
		}
		compiled[i] = ft
	}

	out := make([]float64, t.Rows)
	for r := 0; r < t.Rows; r++ {
		row := t.Row(r)
		sum := b.BaseScore
		for _, ft := range compiled {
			sum += ft.eval(row)
		}
		out[r] = sum
	}
	return out, nil
}

func (ft flatTree) eval(row []float64) float64 {
	n := 0
	for {
		node := ft[n]
		if node.leaf {
			return node.value
		}
		x := row[node.feature]
		switch {
		case math.IsNaN(x):
			n = node.missing
		case x < node.threshold:
			n = node.yes
		default:
			n = node.no
		}
	}
}

// compile flattens a nested tree into a slice indexed by nodeid.  Split
// nodes may branch only to their own children.
func compile(root *treeNode, columns []string) (flatTree, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}

	var nodes []*treeNode
	var walk func(n *treeNode)
	walk = func(n *treeNode) {
		nodes = append(nodes, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	ft := make(flatTree, len(nodes))
	seen := make([]bool, len(nodes))
	for _, n := range nodes {
		if n.NodeID < 0 || n.NodeID >= len(nodes) || seen[n.NodeID] {
			return nil, errors.Newf(errors.ErrCodeModelLoadFailed, "booster node id %d out of range", n.NodeID)
		}
		seen[n.NodeID] = true
		if n.Leaf != nil {
			ft[n.NodeID] = flatNode{leaf: true, value: *n.Leaf}
			continue
		}
		feat, ok := index[n.Split]
		if !ok {
			feat, ok = positional(n.Split, len(columns))
		}
		if !ok {
			return nil, errors.Newf(errors.ErrCodeSchemaMismatch, "booster splits on unknown feature %q", n.Split)
		}
		for _, child := range []int{n.Yes, n.No, n.Missing} {
			if !hasChild(n, child) {
				return nil, errors.Newf(errors.ErrCodeModelLoadFailed,
					"booster node %d branches to %d, which is not one of its children", n.NodeID, child)
			}
		}
		ft[n.NodeID] = flatNode{
			feature:   feat,
			threshold: n.SplitCondition,
			yes:       n.Yes,
			no:        n.No,
			missing:   n.Missing,
		}
	}
	return ft, nil
}

// hasChild reports whether id names a direct child of n.  Branching only to
// children keeps eval moving down the tree.
func hasChild(n *treeNode, id int) bool {
	for _, c := range n.Children {
		if c.NodeID == id && c.NodeID != n.NodeID {
			return true
		}
	}
	return false
}

func positional(split string, width int) (int, bool) {
	if !strings.HasPrefix(split, "f") {
		return 0, false
	}
	i, err := strconv.Atoi(split[1:])
	if err != nil || i < 0 || i >= width {
		return 0, false
	}
	return i, true
}
