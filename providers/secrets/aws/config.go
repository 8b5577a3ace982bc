package aws

import "github.com/aws/aws-sdk-go-v2/aws"

// Config holds configuration for the Secrets Manager store.
type Config struct {
	// Region is the AWS region (e.g., "eu-west-3").
	// If empty, uses AWS_REGION or the shared AWS config file.
	Region string

	// AWSConfig is an optional pre-configured AWS config.
	// If provided, Region is ignored.
	AWSConfig *aws.Config
}
