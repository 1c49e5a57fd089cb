package security

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"trip-planner/internal/shared/dbpath"
	"trip-planner/internal/shared/logger"
)

// Operation is the kind of access being checked
type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// Rule grants access to paths matching Pattern. Expressions see `auth` (the
// token claims or null), `path`, `vars` (pattern bindings) and `newData` (the
// value written at the requested path, null for reads and deletes). An empty
// expression grants nothing; a non-boolean result denies.
type Rule struct {
	Pattern string `json:"pattern"`
	Read    string `json:"read,omitempty"`
	Write   string `json:"write,omitempty"`
}

// DefaultRules protects the users and trips trees
func DefaultRules() []Rule {
	const staff = `auth != null && auth.role in ['manager', 'admin']`
	const tripOwner = `auth != null && (auth.uid == vars.uid || auth.role == 'admin')`
	return []Rule{
		{Pattern: "/users", Read: staff, Write: staff},
		{
			Pattern: "/users/{uid}",
			Read:    `auth != null && (auth.uid == vars.uid || auth.role in ['manager', 'admin'])`,
			// owners may edit their profile but never their role
			Write: `auth != null && (auth.role in ['manager', 'admin'] ||
				(auth.uid == vars.uid &&
					path != '/users/' + vars.uid + '/role' &&
					!path.startsWith('/users/' + vars.uid + '/role/') &&
					(newData == null || type(newData) != map || !has(newData.role) || newData.role == auth.role)))`,
		},
		{Pattern: "/trips/{uid}", Read: tripOwner, Write: tripOwner},
		{Pattern: "/trips/{uid}/{tripId}", Read: tripOwner, Write: tripOwner},
	}
}

type compiledRule struct {
	rule  Rule
	read  cel.Program
	write cel.Program
}

// RulesEngine evaluates path rules. Access granted at a path also covers its
// descendants, as in the hosted database the clients were written against.
type RulesEngine struct {
	env    *cel.Env
	rules  []compiledRule
	logger logger.Logger
}

// Decision is the outcome of an access check
type Decision struct {
	Allowed bool
	Pattern string
	Reason  string
}

func createCELEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("auth", cel.DynType),
		cel.Variable("path", cel.StringType),
		cel.Variable("vars", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("newData", cel.DynType),
	)
}

// NewRulesEngine compiles rules. Any compile error is returned.
func NewRulesEngine(rules []Rule, log logger.Logger) (*RulesEngine, error) {
	env, err := createCELEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	e := &RulesEngine{env: env, logger: log.WithComponent("rules_engine")}

	for _, r := range rules {
		cr := compiledRule{rule: r}
		if cr.read, err = e.compile(r.Read); err != nil {
			return nil, fmt.Errorf("rule %s read: %w", r.Pattern, err)
		}
		if cr.write, err = e.compile(r.Write); err != nil {
			return nil, fmt.Errorf("rule %s write: %w", r.Pattern, err)
		}
		e.rules = append(e.rules, cr)
	}
	// deeper patterns first so the most specific reason is reported
	sort.SliceStable(e.rules, func(i, j int) bool {
		return dbpath.Depth(e.rules[i].rule.Pattern) > dbpath.Depth(e.rules[j].rule.Pattern)
	})
	return e, nil
}

func (e *RulesEngine) compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return e.env.Program(ast)
}

// Evaluate checks op on path for the caller. claims may be nil (anonymous).
func (e *RulesEngine) Evaluate(op Operation, path string, claims *Claims, newData interface{}) Decision {
	path = dbpath.Normalize(path)
	var auth interface{}
	if claims != nil {
		auth = claims.AsMap()
	}

	// the path itself, then each ancestor
	candidates := []string{path}
	for p := path; !dbpath.IsRoot(p); {
		p = dbpath.Parent(p)
		candidates = append(candidates, p)
	}

	for _, candidate := range candidates {
		for _, cr := range e.rules {
			vars, ok := dbpath.Match(cr.rule.Pattern, candidate)
			if !ok {
				continue
			}
			program := cr.read
			if op == OperationWrite {
				program = cr.write
			}
			if program == nil {
				continue
			}
			out, _, err := program.Eval(map[string]interface{}{
				"auth":    auth,
				"path":    path,
				"vars":    vars,
				"newData": newData,
			})
			if err != nil {
				e.logger.Warnf("Rule %s %s on %s failed: %v", cr.rule.Pattern, op, path, err)
				continue
			}
			if allowed, ok := out.Value().(bool); ok && allowed {
				return Decision{Allowed: true, Pattern: cr.rule.Pattern, Reason: "granted by " + cr.rule.Pattern}
			}
		}
	}
	return Decision{Allowed: false, Reason: fmt.Sprintf("no rule grants %s on %s", op, path)}
}
