package dispatchaws

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials/stscreds"
	"github.com/aws/aws-sdk-go/aws/session"
)

const defaultRegion = "us-east-1"

// Makes these easily mockable for testing
var newSession = session.NewSession

// NewSession returns a new AWS session, assuming roleArn when it is set.
func NewSession(roleArn, region string) (*session.Session, error) {
	if region == "" {
		region = defaultRegion
	}

	config := aws.Config{
		Region: aws.String(region),
	}

	if roleArn != "" {
		base, err := newSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return nil, err
		}
		config.Credentials = stscreds.NewCredentials(base, roleArn)
	}

	return newSession(&config)
}
