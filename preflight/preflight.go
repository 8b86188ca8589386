// Package preflight checks that the document handler's execution role can
// reach the tracking table and the document bucket before a deployment goes
// live. It asks IAM to simulate each required action against its resource.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"go.uber.org/zap"

	"github.com/gurre/docreview/aws"
	"github.com/gurre/docreview/config"
	"github.com/gurre/docreview/logging"
)

// ErrDenied is returned by Check when at least one action is not allowed.
var ErrDenied = errors.New("required actions denied")

// Requirement is one action the handler role must be allowed on a resource.
type Requirement struct {
	Action   string
	Resource string
}

// Result is the simulated decision for one Requirement.
type Result struct {
	Requirement
	Decision string // allowed, implicitDeny or explicitDeny
}

// Allowed reports whether IAM allowed the action.
func (r Result) Allowed() bool {
	return r.Decision == string(types.PolicyEvaluationDecisionTypeAllowed)
}

// Requirements lists what the document handler needs: read and update on
// the table, read on every object in the bucket.
func Requirements(cfg *config.Preflight) ([]Requirement, error) {
	account, err := cfg.AccountID()
	if err != nil {
		return nil, err
	}
	partition := cfg.Partition()
	tableARN := fmt.Sprintf("arn:%s:dynamodb:%s:%s:table/%s", partition, cfg.Region, account, cfg.TableName)
	objectsARN := fmt.Sprintf("arn:%s:s3:::%s/*", partition, cfg.BucketName)

	return []Requirement{
		{Action: "dynamodb:GetItem", Resource: tableARN},
		{Action: "dynamodb:UpdateItem", Resource: tableARN},
		{Action: "s3:GetObject", Resource: objectsARN},
	}, nil
}

// Checker runs the simulation.
type Checker struct {
	client aws.IAMClient
	logger *zap.Logger
}

// NewChecker creates a Checker.
func NewChecker(client aws.IAMClient, logger *zap.Logger) *Checker {
	return &Checker{client: client, logger: logging.OrNop(logger)}
}

// Check simulates every requirement for cfg.RoleARN. The results are always
// returned; err wraps ErrDenied when any action is not allowed.
func (c *Checker) Check(ctx context.Context, cfg *config.Preflight) ([]Result, error) {
	reqs, err := Requirements(cfg)
	if err != nil {
		return nil, err
	}

	// One simulation per resource; actions sharing a resource go together.
	byResource := make(map[string][]string)
	var resources []string
	for _, r := range reqs {
		if _, ok := byResource[r.Resource]; !ok {
			resources = append(resources, r.Resource)
		}
		byResource[r.Resource] = append(byResource[r.Resource], r.Action)
	}

	decisions := make(map[Requirement]string, len(reqs))
	for _, resource := range resources {
		if err := c.simulate(ctx, cfg.RoleARN, resource, byResource[resource], decisions); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(reqs))
	var denied int
	for _, r := range reqs {
		decision, ok := decisions[r]
		if !ok {
			decision = string(types.PolicyEvaluationDecisionTypeImplicitDeny)
		}
		res := Result{Requirement: r, Decision: decision}
		if res.Allowed() {
			c.logger.Info("action allowed", zap.String("action", r.Action), zap.String("resource", r.Resource))
		} else {
			denied++
			c.logger.Warn("action denied", zap.String("action", r.Action), zap.String("resource", r.Resource), zap.String("decision", decision))
		}
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Action < results[j].Action })

	if denied > 0 {
		return results, fmt.Errorf("%w: %d of %d", ErrDenied, denied, len(results))
	}
	return results, nil
}

func (c *Checker) simulate(ctx context.Context, roleARN, resource string, actions []string, into map[Requirement]string) error {
	input := &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: &roleARN,
		ActionNames:     actions,
		ResourceArns:    []string{resource},
	}
	for {
		out, err := c.client.SimulatePrincipalPolicy(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to simulate policy for %s: %w", resource, err)
		}
		for _, ev := range out.EvaluationResults {
			if ev.EvalActionName == nil {
				continue
			}
			into[Requirement{Action: *ev.EvalActionName, Resource: resource}] = string(ev.EvalDecision)
		}
		if !out.IsTruncated || out.Marker == nil {
			return nil
		}
		input.Marker = out.Marker
	}
}
