package execution

import (
	"context"

	"github.com/sourceops/cloud-custodian/internal/session"
)

// Instance is the subset of an EC2 instance description the policy reads.
type Instance struct {
	InstanceID   string `json:"InstanceId"`
	InstanceType string `json:"InstanceType"`
	State        struct {
		Name string `json:"Name"`
	} `json:"State"`
	Tags []Tag `json:"Tags"`
}

// Tag is a key/value resource tag.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Tag returns the value of the named tag, or "".
func (i Instance) Tag(key string) string {
	for _, t := range i.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

type describeInstancesInput struct {
	MaxResults int    `json:"MaxResults,omitempty"`
	NextToken  string `json:"NextToken,omitempty"`
}

type describeInstancesOutput struct {
	Reservations []struct {
		Instances []Instance `json:"Instances"`
	} `json:"Reservations"`
	NextToken string `json:"NextToken"`
}

// DescribeInstances lists all instances, following NextToken pagination.
// Each page is a separate call, so a recording holds one entry per page.
func DescribeInstances(ctx context.Context, sess *session.Session) ([]Instance, error) {
	var (
		instances []Instance
		in        describeInstancesInput
	)
	for {
		var out describeInstancesOutput
		if err := sess.Call(ctx, "ec2", "DescribeInstances", in, &out); err != nil {
			return nil, err
		}
		for _, r := range out.Reservations {
			instances = append(instances, r.Instances...)
		}
		if out.NextToken == "" {
			return instances, nil
		}
		in.NextToken = out.NextToken
	}
}

// StopInstances stops the given instances.
func StopInstances(ctx context.Context, sess *session.Session, ids []string) error {
	in := struct {
		InstanceIds []string `json:"InstanceIds"`
	}{InstanceIds: ids}
	return sess.Call(ctx, "ec2", "StopInstances", in, nil)
}
