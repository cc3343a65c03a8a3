package transcribe

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
)

// AWSAPI is the subset of the Amazon Transcribe client used here.
type AWSAPI interface {
	StartTranscriptionJob(ctx context.Context, in *awstranscribe.StartTranscriptionJobInput, opts ...func(*awstranscribe.Options)) (*awstranscribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, in *awstranscribe.GetTranscriptionJobInput, opts ...func(*awstranscribe.Options)) (*awstranscribe.GetTranscriptionJobOutput, error)
}

// AWSJobs runs jobs on Amazon Transcribe.
type AWSJobs struct {
	api AWSAPI
}

func NewAWSJobs(cfg aws.Config) *AWSJobs {
	return &AWSJobs{api: awstranscribe.NewFromConfig(cfg)}
}

func (a *AWSJobs) Start(ctx context.Context, name, mediaURI, language, format string) error {
	_, err := a.api.StartTranscriptionJob(ctx, &awstranscribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
		LanguageCode:         types.LanguageCode(language),
		MediaFormat:          types.MediaFormat(format),
		Media:                &types.Media{MediaFileUri: aws.String(mediaURI)},
	})
	if err != nil {
		return fmt.Errorf("start transcription job: %w", err)
	}
	return nil
}

func (a *AWSJobs) Get(ctx context.Context, name string) (Job, error) {
	out, err := a.api.GetTranscriptionJob(ctx, &awstranscribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(name),
	})
	if err != nil {
		return Job{}, fmt.Errorf("get transcription job: %w", err)
	}
	tj := out.TranscriptionJob
	if tj == nil {
		return Job{}, fmt.Errorf("get transcription job: %s not returned", name)
	}

	job := Job{ID: name, Status: StatusRunning}
	switch tj.TranscriptionJobStatus {
	case types.TranscriptionJobStatusCompleted:
		job.Status = StatusCompleted
		if tj.Transcript != nil {
			job.ResultURI = aws.ToString(tj.Transcript.TranscriptFileUri)
		}
	case types.TranscriptionJobStatusFailed:
		job.Status = StatusFailed
		job.FailureReason = aws.ToString(tj.FailureReason)
	}
	return job, nil
}
