// Copyright 2026 The Proofwork Authors
// This file is part of the Proofwork library.
//
// The Proofwork library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Proofwork library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Proofwork library. If not, see <http://www.gnu.org/licenses/>.

// Package artifactstore implements the one piece of object-storage surface
// spec.md §4.8 keeps in scope as a "contract": presigning the PUT URL a
// worker uploads evidence artifacts to. The bucket itself, its lifecycle
// policy and the scanning pipeline it feeds are operator infrastructure,
// out of scope per spec.md §1.
package artifactstore

import (
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/proofwork/proofwork/internal/apperr"
)

// Presigner issues time-limited upload URLs against a single S3 bucket.
type Presigner struct {
	bucket string
	s3     *s3.S3
}

// New builds a Presigner from an operator-supplied region and bucket name.
func New(region, bucket string) (*Presigner, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "artifactstore_session_failed", "could not start AWS session", err)
	}
	return &Presigner{bucket: bucket, s3: s3.New(sess)}, nil
}

// PresignUpload returns a URL the worker PUTs the artifact's bytes to
// directly, valid for ttl. The key is the artifact id; content type is
// pinned to prevent a worker from substituting an executable upload for a
// declared evidence format.
func (p *Presigner) PresignUpload(artifactID, contentType string, ttl time.Duration) (string, error) {
	req, _ := p.s3.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(artifactID),
		ContentType: aws.String(contentType),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", apperr.Wrap(apperr.Transient, "artifactstore_presign_failed", "could not presign artifact upload URL", err)
	}
	return url, nil
}

// PresignDownload returns a time-limited GET URL for an already-clean
// artifact, used by the verifier gateway to fetch evidence (spec.md §6).
func (p *Presigner) PresignDownload(artifactID string, ttl time.Duration) (string, error) {
	req, _ := p.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(artifactID),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", apperr.Wrap(apperr.Transient, "artifactstore_presign_failed", "could not presign artifact download URL", err)
	}
	return url, nil
}
