package anchor

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// BatchLeaf is one action's commitment in a batch anchor.
type BatchLeaf struct {
	ActionID    string
	PayloadHash string
	LeafHash    string
}

// MerkleTree commits a batch of action payload hashes under a single root.
// Leaves and inner nodes are domain-separated so a leaf can never be
// reinterpreted as a node.
type MerkleTree struct {
	Leaves []BatchLeaf
	Root   string
	Nodes  [][]string // levels of node hashes, leaves first
}

// BuildMerkleTree constructs the batch tree. Leaves are ordered by action id
// so the root is independent of submission order.
func BuildMerkleTree(payloadHashes map[string]string) *MerkleTree {
	ids := make([]string, 0, len(payloadHashes))
	for id := range payloadHashes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	leaves := make([]BatchLeaf, len(ids))
	for i, id := range ids {
		leaves[i] = BatchLeaf{
			ActionID:    id,
			PayloadHash: payloadHashes[id],
			LeafHash:    sha256Hex(buildLeafBytes(id, payloadHashes[id])),
		}
	}

	if len(leaves) == 0 {
		return &MerkleTree{Root: ""}
	}

	tree := &MerkleTree{Leaves: leaves}
	currentLevel := make([]string, len(leaves))
	for i, l := range leaves {
		currentLevel[i] = l.LeafHash
	}

	for len(currentLevel) > 1 {
		tree.Nodes = append(tree.Nodes, currentLevel)
		currentLevel = buildNextLevel(currentLevel)
	}

	tree.Root = currentLevel[0]
	tree.Nodes = append(tree.Nodes, currentLevel)
	return tree
}

func buildLeafBytes(actionID, payloadHash string) []byte {
	var buf bytes.Buffer
	buf.WriteString("chaoscore:anchor:leaf:v1")
	buf.WriteByte(0)
	buf.WriteString(actionID)
	buf.WriteByte(0)
	buf.WriteString(payloadHash)
	return buf.Bytes()
}

func buildNextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1]) // Duplicate last
		count++
	}

	nextLevel := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		nextLevel[i/2] = buildNodeHash(hashes[i], hashes[i+1])
	}
	return nextLevel
}

func buildNodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString("chaoscore:anchor:node:v1")
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

// InclusionProof shows one action's membership in a batch anchor without
// revealing the other leaves.
type InclusionProof struct {
	ActionID   string      `json:"action_id"`
	LeafHash   string      `json:"leaf_hash"`
	MerkleRoot string      `json:"merkle_root"`
	ProofPath  []ProofStep `json:"proof_path"`
}

// ProofStep is one sibling on the path from leaf to root.
type ProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// Proof builds the inclusion proof for an action in the batch.
func (t *MerkleTree) Proof(actionID string) (InclusionProof, bool) {
	idx := -1
	for i, leaf := range t.Leaves {
		if leaf.ActionID == actionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return InclusionProof{}, false
	}

	proof := InclusionProof{
		ActionID:   actionID,
		LeafHash:   t.Leaves[idx].LeafHash,
		MerkleRoot: t.Root,
	}

	for _, level := range t.Nodes[:len(t.Nodes)-1] {
		if len(level)%2 != 0 {
			level = append(append([]string(nil), level...), level[len(level)-1])
		}
		if idx%2 == 0 {
			proof.ProofPath = append(proof.ProofPath, ProofStep{Side: "R", SiblingHash: level[idx+1]})
		} else {
			proof.ProofPath = append(proof.ProofPath, ProofStep{Side: "L", SiblingHash: level[idx-1]})
		}
		idx /= 2
	}
	return proof, true
}

// VerifyInclusionProof replays the proof path and checks the resulting root.
func VerifyInclusionProof(proof InclusionProof, expectedRoot string) bool {
	if expectedRoot != "" && proof.MerkleRoot != expectedRoot {
		return false
	}

	current := proof.LeafHash
	for _, step := range proof.ProofPath {
		if step.Side == "L" {
			current = buildNodeHash(step.SiblingHash, current)
		} else {
			current = buildNodeHash(current, step.SiblingHash)
		}
	}
	return current == proof.MerkleRoot
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
