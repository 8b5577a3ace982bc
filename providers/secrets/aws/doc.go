// Package aws stores the master secret of the in-process attribute
// authority in AWS Secrets Manager.
//
// SecretsManagerStore implements medx.MasterKeyStore. The 32-byte key is
// kept base64 encoded under "medx/{alias}/master-key".
//
// # Basic Usage
//
//	store, err := aws.NewSecretsManagerStore(ctx, aws.Config{Region: "eu-west-3"})
//	if err != nil {
//	    // handle error
//	}
//	masterKey, err := medx.LoadOrCreateMasterKey(ctx, store, "medx")
//
// # IAM Permissions
//
//	{
//	  "Effect": "Allow",
//	  "Action": [
//	    "secretsmanager:CreateSecret",
//	    "secretsmanager:GetSecretValue",
//	    "secretsmanager:PutSecretValue",
//	    "secretsmanager:DescribeSecret"
//	  ],
//	  "Resource": "arn:aws:secretsmanager:*:*:secret:medx/*"
//	}
package aws
