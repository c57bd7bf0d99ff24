package amazon

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	prov "github.com/3cpo-dev/bootnode/internal/providers"
)

const (
	DefaultRegion       = "ap-southeast-2"
	DefaultImage        = "ami-0b7dcd6e6fd797935"
	DefaultInstanceType = "t2.micro"
	DefaultTagKey       = "Name"
)

type Provider struct{ cfg prov.Config }

func New(cfg prov.Config) *Provider { return &Provider{cfg: cfg} }

func (p *Provider) Name() string { return "aws" }

func (p *Provider) Defaults() prov.Defaults {
	a := p.cfg.AWS
	return prov.Defaults{
		Region: firstNonEmpty(a.Region, DefaultRegion),
		Image:  firstNonEmpty(a.Image, DefaultImage),
		Size:   firstNonEmpty(a.InstanceType, DefaultInstanceType),
		TagKey: firstNonEmpty(a.TagKey, DefaultTagKey),
	}
}

// Connect resolves credentials through the SDK default chain (env, shared
// config, IMDS) unless static keys are configured.
func (p *Provider) Connect(ctx context.Context, region string) (prov.Compute, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if p.cfg.AWS.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(p.cfg.AWS.Profile))
	}
	if p.cfg.AWS.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.cfg.AWS.AccessKeyID, p.cfg.AWS.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		if p.cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.cfg.AWS.Endpoint)
		}
	})
	return &Compute{ec2: client, creds: awsCfg.Credentials}, nil
}

// API is the subset of the EC2 client used by Compute.
type API interface {
	CreateKeyPair(ctx context.Context, in *ec2.CreateKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Compute talks to EC2 in a single region.
type Compute struct {
	ec2   API
	creds aws.CredentialsProvider
}

// NewCompute wraps an existing EC2 client.
func NewCompute(api API, creds aws.CredentialsProvider) *Compute {
	return &Compute{ec2: api, creds: creds}
}

func (c *Compute) Identity(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", errors.New("no credentials provider configured")
	}
	v, err := c.creds.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("retrieve credentials: %w", err)
	}
	return v.AccessKeyID, nil
}

func (c *Compute) CreateKeyPair(ctx context.Context, name string) (*prov.KeyMaterial, error) {
	out, err := c.ec2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("create key pair %s: %w", name, err)
	}
	material := aws.ToString(out.KeyMaterial)
	if material == "" {
		return nil, fmt.Errorf("create key pair %s: empty key material", name)
	}
	return &prov.KeyMaterial{Name: firstNonEmpty(aws.ToString(out.KeyName), name), PrivateKey: []byte(material)}, nil
}

func (c *Compute) LaunchInstance(ctx context.Context, req prov.LaunchRequest) (string, error) {
	in := &ec2.RunInstancesInput{
		ImageId:      aws.String(req.Image),
		InstanceType: types.InstanceType(req.Size),
		KeyName:      aws.String(req.KeyName),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	if req.UserData != "" {
		in.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(req.UserData)))
	}
	out, err := c.ec2.RunInstances(ctx, in)
	if err != nil {
		return "", fmt.Errorf("run instances: %w", err)
	}
	if len(out.Instances) == 0 || aws.ToString(out.Instances[0].InstanceId) == "" {
		return "", errors.New("run instances: no instance returned")
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

func (c *Compute) TagInstance(ctx context.Context, instanceID, key, value string) error {
	_, err := c.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      []types.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("create tags on %s: %w", instanceID, err)
	}
	return nil
}

func (c *Compute) PublicAddress(ctx context.Context, instanceID string) (string, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{Name: aws.String("instance-id"), Values: []string{instanceID}}},
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("describe %s: %w", instanceID, prov.ErrNotFound)
		}
		return "", fmt.Errorf("describe %s: %w", instanceID, err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if aws.ToString(inst.InstanceId) == instanceID {
				return aws.ToString(inst.PublicIpAddress), nil
			}
		}
	}
	// Filtered describes of a brand new instance can come back empty.
	return "", fmt.Errorf("describe %s: %w", instanceID, prov.ErrNotFound)
}

// isNotFound reports whether EC2 has not yet propagated the instance.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "InvalidInstanceID.NotFound"
	}
	return false
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
