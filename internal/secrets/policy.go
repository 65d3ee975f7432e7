// Package secrets implements the named-policy secret generation engine
// (spec.md §4.9, component C9): ensure/rotate/get/batch_ensure/batch_get
// over server-encrypted (shared) items whose payload is
// {value, policy, meta?}.
package secrets

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/zann-project/zann/internal/errs"
)

// CharClass is one category of characters a policy may require.
type CharClass int

const (
	ClassLower CharClass = iota
	ClassUpper
	ClassDigit
	ClassSymbol
)

var classAlphabets = map[CharClass]string{
	ClassLower:  "abcdefghijklmnopqrstuvwxyz",
	ClassUpper:  "ABCDEFGHIJKLMNOPQRSTUVWXYZ",
	ClassDigit:  "0123456789",
	ClassSymbol: "!@#$%^&*()-_=+[]{}",
}

// Policy is a named generation policy (spec.md §4.9: "{length, classes, forbidden_chars?}").
type Policy struct {
	Name           string
	Length         int
	Classes        []CharClass
	ForbiddenChars string
}

// alphabet returns the deduplicated character set this policy draws from,
// with ForbiddenChars removed.
func (p Policy) alphabet() string {
	seen := map[rune]bool{}
	var b strings.Builder
	for _, c := range p.Classes {
		for _, r := range classAlphabets[c] {
			if seen[r] || strings.ContainsRune(p.ForbiddenChars, r) {
				continue
			}
			seen[r] = true
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Registry resolves named policies, including the engine default.
type Registry struct {
	policies map[string]Policy
	defName  string
}

// DefaultPolicyName is advertised when a caller omits policy_name.
const DefaultPolicyName = "default"

// NewRegistry builds a Registry seeded with a default policy plus any
// additional named policies the deployment configures.
func NewRegistry(extra ...Policy) *Registry {
	r := &Registry{policies: map[string]Policy{}}
	r.policies[DefaultPolicyName] = Policy{
		Name: DefaultPolicyName, Length: 24,
		Classes: []CharClass{ClassLower, ClassUpper, ClassDigit, ClassSymbol},
	}
	r.defName = DefaultPolicyName
	for _, p := range extra {
		r.policies[p.Name] = p
	}
	return r
}

// Resolve looks up a policy by name, falling back to the registry default
// when name is empty (spec.md §4.9: "resolve_policy(policy_name|default)").
func (r *Registry) Resolve(name string) (Policy, error) {
	if name == "" {
		name = r.defName
	}
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, errs.New(errs.KindUnknownPolicy, "unknown secret policy: "+name)
	}
	return p, nil
}

// Generate produces a value satisfying policy: one character from each
// required class, the remainder drawn from the combined alphabet, then
// shuffled into place. CSPRNG consumption is a fixed function of
// policy.Length and len(policy.Classes); only the output is random
// (spec.md §4.9).
func Generate(policy Policy) (string, error) {
	if policy.Length <= 0 || len(policy.Classes) == 0 {
		return "", errs.New(errs.KindUnknownPolicy, "policy has no usable alphabet")
	}
	if policy.Length < len(policy.Classes) {
		return "", errs.New(errs.KindUnknownPolicy, "policy length too short for its class count")
	}
	alphabet := policy.alphabet()
	if alphabet == "" {
		return "", errs.New(errs.KindUnknownPolicy, "policy has no usable alphabet")
	}

	out := make([]byte, policy.Length)
	for i, c := range policy.Classes {
		ch, err := randChar(classAlphabetWithout(c, policy.ForbiddenChars))
		if err != nil {
			return "", err
		}
		out[i] = ch
	}
	for i := len(policy.Classes); i < policy.Length; i++ {
		ch, err := randChar(alphabet)
		if err != nil {
			return "", err
		}
		out[i] = ch
	}
	if err := shuffleBytes(out); err != nil {
		return "", err
	}
	return string(out), nil
}

func classAlphabetWithout(c CharClass, forbidden string) string {
	var b strings.Builder
	for _, r := range classAlphabets[c] {
		if !strings.ContainsRune(forbidden, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randChar(alphabet string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, errs.New(errs.KindKDFFailed, "random draw failed")
	}
	return alphabet[idx.Int64()], nil
}

func shuffleBytes(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return errs.New(errs.KindKDFFailed, "random shuffle failed")
		}
		b[i], b[j.Int64()] = b[j.Int64()], b[i]
	}
	return nil
}
