package api

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// ECS task statuses the handlers act on.
const (
	StatusProvisioning   = "PROVISIONING"
	StatusPending        = "PENDING"
	StatusActivating     = "ACTIVATING"
	StatusRunning        = "RUNNING"
	StatusDeactivating   = "DEACTIVATING"
	StatusStopping       = "STOPPING"
	StatusDeprovisioning = "DEPROVISIONING"
	StatusStopped        = "STOPPED"
)

// DetailTypeTaskStateChange is the EventBridge detail-type of ECS task events.
const DetailTypeTaskStateChange = "ECS Task State Change"

// TaskStateChange is the detail of an ECS task state-change notification.
type TaskStateChange struct {
	ClusterArn    string       `json:"clusterArn"`
	TaskArn       string       `json:"taskArn"`
	Group         string       `json:"group,omitempty"`
	LastStatus    string       `json:"lastStatus"`
	DesiredStatus string       `json:"desiredStatus"`
	StoppedReason string       `json:"stoppedReason,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// Attachment is a resource attached to a task, usually its ENI.
type Attachment struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Status  string             `json:"status,omitempty"`
	Details []AttachmentDetail `json:"details,omitempty"`
}

// AttachmentDetail is a name/value pair describing an attachment.
type AttachmentDetail struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ClusterName returns the cluster name from the event's cluster ARN.
func (e TaskStateChange) ClusterName() string {
	return ClusterName(e.ClusterArn)
}

// GroupName returns the service or family name ("service:web" -> "web").
func (e TaskStateChange) GroupName() string {
	if _, name, ok := strings.Cut(e.Group, ":"); ok {
		return name
	}
	return e.Group
}

// NetworkInterfaceID returns the ENI id of the task's first network
// interface attachment, or "" while the interface is not yet provisioned.
func (e TaskStateChange) NetworkInterfaceID() string {
	for _, a := range e.Attachments {
		if a.Type != "eni" && a.Type != "ElasticNetworkInterface" {
			continue
		}
		for _, d := range a.Details {
			if d.Name == "networkInterfaceId" && d.Value != "" {
				return d.Value
			}
		}
	}
	return ""
}

// ClusterName extracts the cluster name from an ECS cluster ARN.
// A value that is not an ARN is returned unchanged.
func ClusterName(clusterArn string) string {
	parsed, err := arn.Parse(clusterArn)
	if err != nil {
		return clusterArn
	}
	return strings.TrimPrefix(parsed.Resource, "cluster/")
}

// DecodeTaskStateChange decodes either a full EventBridge envelope or a bare
// task detail object.
func DecodeTaskStateChange(data []byte) (TaskStateChange, error) {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return TaskStateChange{}, &InvalidParameterError{Message: "invalid event body: " + err.Error()}
	}
	body := data
	if len(envelope.Detail) > 0 && !bytes.Equal(envelope.Detail, []byte("null")) {
		body = envelope.Detail
	}
	var ev TaskStateChange
	if err := json.Unmarshal(body, &ev); err != nil {
		return TaskStateChange{}, &InvalidParameterError{Message: "invalid task detail: " + err.Error()}
	}
	return ev, nil
}

// LaunchRequest carries the network parameters for a new task.
type LaunchRequest struct {
	Cluster        string   `json:"cluster"`
	TaskDefinition string   `json:"taskDefinition"`
	Subnets        []string `json:"subnets"`
	SecurityGroup  string   `json:"securityGroup"`
	ContainerName  string   `json:"containerName,omitempty"`
}

// LaunchResult reports what a launch did.
type LaunchResult struct {
	TaskArns     []string `json:"taskArns"`
	StoppedTasks []string `json:"stoppedTasks,omitempty"`
	StopFailures int      `json:"stopFailures,omitempty"`
}

// Response is the JSON body of an HTTP-shaped handler response.
type Response struct {
	Message string `json:"message"`
	Outcome string `json:"outcome,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}
