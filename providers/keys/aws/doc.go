// Package aws seals secret key halves with AWS Key Management Service.
//
// KMSSealer implements medx.KeySealer. Every sealed value is bound to an
// encryption context naming its purpose, so a blob sealed for medx cannot
// be opened through a different KMS caller that omits it.
//
// # Basic Usage
//
//	sealer, err := aws.NewKMSSealer(ctx, aws.Config{
//	    Region: "eu-west-3",
//	    KeyID:  "alias/medx-keys",
//	})
//	if err != nil {
//	    // handle error
//	}
//
//	svc, err := medx.NewService(registry, abe, ibe, store, gate,
//	    medx.WithKeySealer(sealer))
//
// KeyID accepts a key id, key ARN, alias name or alias ARN. A bare name is
// treated as an alias.
//
// # IAM Permissions
//
//	{
//	  "Effect": "Allow",
//	  "Action": ["kms:Encrypt", "kms:Decrypt", "kms:DescribeKey"],
//	  "Resource": "arn:aws:kms:*:*:key/*"
//	}
package aws
