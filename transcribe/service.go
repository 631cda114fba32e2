// Package transcribe converts recorded speech to text through the AWS
// Transcribe asynchronous job API. Audio bytes are staged in S3, a named job
// is started against the staged object, and the job status is polled on a
// fixed interval up to a bounded attempt count. The staged object is deleted
// on every exit path; deletion failures are logged, never surfaced.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	trtypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/google/uuid"
	"goa.design/clue/log"
)

const (
	defaultLanguage     = "es-ES"
	defaultFormat       = "wav"
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 30
)

// Terminal failures of one transcription request. The whole job is never
// retried; the caller surfaces a fixed apologetic message.
var (
	// ErrJobFailed reports that the transcription job reached the FAILED
	// status.
	ErrJobFailed = errors.New("transcribe: job failed")

	// ErrTimeout reports that the job did not reach a terminal status within
	// the bounded attempt count.
	ErrTimeout = errors.New("transcribe: job timed out")
)

type (
	// ObjectStore mirrors the subset of the S3 client used for staging audio
	// bytes. It matches *s3.Client.
	ObjectStore interface {
		PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
		DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	}

	// JobClient mirrors the subset of the Transcribe client used to run jobs.
	// It matches *transcribe.Client.
	JobClient interface {
		StartTranscriptionJob(ctx context.Context, params *awstranscribe.StartTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.StartTranscriptionJobOutput, error)
		GetTranscriptionJob(ctx context.Context, params *awstranscribe.GetTranscriptionJobInput, optFns ...func(*awstranscribe.Options)) (*awstranscribe.GetTranscriptionJobOutput, error)
	}

	// Doer issues the out-of-band HTTP fetch of the transcript document.
	// Satisfied by *http.Client.
	Doer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// Options configures the transcription service.
	Options struct {
		// Storage stages audio bytes. Required.
		Storage ObjectStore

		// Jobs runs transcription jobs. Required.
		Jobs JobClient

		// Bucket is the staging bucket name. Required.
		Bucket string

		// HTTP fetches the transcript document. Defaults to http.DefaultClient.
		HTTP Doer

		// Language is the fixed source language code. Defaults to "es-ES".
		Language string

		// Format is the fixed media format. Defaults to "wav".
		Format string

		// PollInterval is the delay between status queries. Defaults to 1s.
		PollInterval time.Duration

		// MaxAttempts bounds the number of status queries. Defaults to 30.
		MaxAttempts int
	}

	// Service runs one polling lifecycle per Transcribe call. Each call owns
	// its staging key and job name exclusively; nothing is shared across
	// requests.
	Service struct {
		storage     ObjectStore
		jobs        JobClient
		http        Doer
		bucket      string
		language    string
		format      string
		interval    time.Duration
		maxAttempts int
	}

	// transcriptDocument matches the JSON document AWS Transcribe publishes at
	// the transcript file URI.
	transcriptDocument struct {
		Results struct {
			Transcripts []struct {
				Transcript string `json:"transcript"`
			} `json:"transcripts"`
		} `json:"results"`
	}
)

// New builds a transcription Service.
func New(opts Options) (*Service, error) {
	if opts.Storage == nil {
		return nil, errors.New("object store is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("transcribe job client is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("staging bucket is required")
	}
	httpc := opts.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	language := opts.Language
	if language == "" {
		language = defaultLanguage
	}
	format := opts.Format
	if format == "" {
		format = defaultFormat
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Service{
		storage:     opts.Storage,
		jobs:        opts.Jobs,
		http:        httpc,
		bucket:      opts.Bucket,
		language:    language,
		format:      format,
		interval:    interval,
		maxAttempts: maxAttempts,
	}, nil
}

// Transcribe stages the audio bytes, runs one transcription job to a terminal
// status and returns the first transcript string. Fails with ErrJobFailed or
// ErrTimeout; any staging or status-query failure propagates as-is.
func (s *Service) Transcribe(ctx context.Context, audio []byte) (string, error) {
	id := uuid.NewString()
	key := "audio-" + id + "." + s.format
	jobName := "job-" + id

	// Stage first; a failure here aborts with nothing to clean up.
	if err := s.stage(ctx, key, audio); err != nil {
		return "", fmt.Errorf("stage audio: %w", err)
	}
	// From here on the staged object must be deleted exactly once on every
	// exit path. Cleanup failure is swallowed: staging-object leakage is an
	// acceptable trade-off, not a failure of the transcription itself.
	defer s.cleanup(ctx, key)

	if err := s.start(ctx, jobName, key); err != nil {
		return "", fmt.Errorf("start job %q: %w", jobName, err)
	}
	return s.poll(ctx, jobName)
}

func (s *Service) stage(ctx context.Context, key string, audio []byte) error {
	_, err := s.storage.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String("audio/" + s.format),
	})
	return err
}

func (s *Service) start(ctx context.Context, jobName, key string) error {
	_, err := s.jobs.StartTranscriptionJob(ctx, &awstranscribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		Media: &trtypes.Media{
			MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", s.bucket, key)),
		},
		MediaFormat:  trtypes.MediaFormat(s.format),
		LanguageCode: trtypes.LanguageCode(s.language),
	})
	return err
}

func (s *Service) poll(ctx context.Context, jobName string) (string, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		out, err := s.jobs.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
			TranscriptionJobName: aws.String(jobName),
		})
		if err != nil {
			return "", fmt.Errorf("get job %q: %w", jobName, err)
		}
		job := out.TranscriptionJob
		if job == nil {
			return "", fmt.Errorf("get job %q: empty response", jobName)
		}
		switch job.TranscriptionJobStatus {
		case trtypes.TranscriptionJobStatusCompleted:
			if job.Transcript == nil || job.Transcript.TranscriptFileUri == nil {
				return "", fmt.Errorf("%w: completed without transcript location", ErrJobFailed)
			}
			return s.fetchTranscript(ctx, *job.Transcript.TranscriptFileUri)
		case trtypes.TranscriptionJobStatusFailed:
			if job.FailureReason != nil && *job.FailureReason != "" {
				return "", fmt.Errorf("%w: %s", ErrJobFailed, *job.FailureReason)
			}
			return "", ErrJobFailed
		}
		// RUNNING or any other non-terminal status: wait out the interval
		// before the next query.
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.interval):
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrTimeout, s.maxAttempts)
}

func (s *Service) fetchTranscript(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("build transcript request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch transcript: unexpected status %d", resp.StatusCode)
	}
	var doc transcriptDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return "", errors.New("transcript document contains no transcripts")
	}
	return doc.Results.Transcripts[0].Transcript, nil
}

// cleanup deletes the staged object. It runs on every exit path after staging
// succeeded and swallows its own failure.
func (s *Service) cleanup(ctx context.Context, key string) {
	// The request context may already be canceled; cleanup still gets a short
	// window of its own.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := s.storage.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		log.Errorf(ctx, err, "delete staged object %q", key)
	}
}
