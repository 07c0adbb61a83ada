package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/classifier"
	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
	"github.com/xaenox/task-extractor/internal/vocab"
)

// epochOutcome is what the epoch loop hands back to the run.
type epochOutcome struct {
	history  []models.EpochStat
	bestLoss float64
}

func (e *Engine) runTrain(ctx context.Context, lr *liveRun, req TrainRequest) (result *models.TrainingResult, err error) {
	var version string
	defer func() {
		if err != nil {
			err = trainingError(err)
		}
		e.finish(lr, version, err)
	}()

	texts := make([]string, len(req.Examples))
	statuses := make([]string, len(req.Examples))
	for i, ex := range req.Examples {
		texts[i] = ex.Text
		statuses[i] = ex.Labels.Status
	}

	v := vocab.NewVocabulary()
	v.BuildFromTexts(texts)
	labels := vocab.NewLabelEncoder()
	labels.Fit(statuses)

	samples := make([]classifier.Sample, len(req.Examples))
	for i := range req.Examples {
		samples[i] = classifier.Sample{
			IDs:   v.Encode(texts[i], e.cfg.MaxTextLen),
			Label: labels.Encode(statuses[i]),
		}
	}

	rng := rand.New(rand.NewSource(e.cfg.Seed))
	rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
	valSize := len(samples) / 10
	if valSize < 1 {
		valSize = 1
	}
	val, train := samples[:valSize], samples[valSize:]

	net, err := classifier.New(classifier.Config{
		VocabSize:    v.Size(),
		EmbeddingDim: e.cfg.EmbeddingDim,
		NumClasses:   labels.NumClasses(),
		Seed:         e.cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Training started",
		zap.String("training_id", lr.run.ID),
		zap.Int("vocab_size", v.Size()),
		zap.Int("num_classes", labels.NumClasses()),
		zap.Int("train_samples", len(train)),
		zap.Int("val_samples", len(val)))

	outcome, err := e.epochLoop(ctx, lr, net, classifier.NewAdam(net, req.LearningRate, false), train, val, req.Hyperparams, rng)
	if err != nil {
		return nil, err
	}

	bundle := &modelstore.Bundle{
		Net:    net,
		Vocab:  v,
		Labels: labels,
		Metadata: modelstore.Metadata{
			MaxTextLen: e.cfg.MaxTextLen,
			Training: &models.TrainingStats{
				TrainingID:    lr.run.ID,
				Epochs:        req.Epochs,
				BatchSize:     req.BatchSize,
				LearningRate:  req.LearningRate,
				TotalExamples: len(req.Examples),
				BestLoss:      outcome.bestLoss,
				History:       outcome.history,
			},
		},
	}
	version, err = e.store.Save(ctx, bundle, req.ModelName)
	if err != nil {
		return nil, err
	}
	e.activate(bundle)

	return &models.TrainingResult{
		TrainingID:      lr.run.ID,
		Status:          models.RunCompleted,
		ModelName:       req.ModelName,
		ModelVersion:    version,
		TotalExamples:   len(req.Examples),
		EpochsCompleted: req.Epochs,
		FinalLoss:       outcome.bestLoss,
		DurationSeconds: int(e.now().Sub(lr.run.StartedAt).Seconds()),
		Metrics: map[string]any{
			"vocab_size":    v.Size(),
			"num_classes":   labels.NumClasses(),
			"train_samples": len(train),
			"val_samples":   len(val),
			"best_loss":     outcome.bestLoss,
		},
	}, nil
}

// runFineTune keeps the base vocabulary and label encoder. Tokens and labels
// they do not know encode as UNK and class 0.
func (e *Engine) runFineTune(ctx context.Context, lr *liveRun, req FineTuneRequest, base *modelstore.Bundle) (result *models.TrainingResult, err error) {
	var version string
	defer func() {
		if err != nil {
			err = trainingError(err)
		}
		e.finish(lr, version, err)
	}()

	maxLen := base.Metadata.MaxTextLen
	if maxLen <= 0 {
		maxLen = e.cfg.MaxTextLen
	}

	unknown := 0
	samples := make([]classifier.Sample, len(req.Examples))
	for i, ex := range req.Examples {
		if _, ok := base.Labels.Lookup(ex.Labels.Status); !ok {
			unknown++
		}
		samples[i] = classifier.Sample{
			IDs:   base.Vocab.Encode(ex.Text, maxLen),
			Label: base.Labels.Encode(ex.Labels.Status),
		}
	}
	if unknown > 0 {
		e.logger.Warn("Fine-tuning examples carry labels unknown to the base model",
			zap.String("training_id", lr.run.ID),
			zap.Int("unknown_labels", unknown),
			zap.Strings("known_labels", base.Labels.Classes()))
	}

	e.logger.Info("Fine-tuning started",
		zap.String("training_id", lr.run.ID),
		zap.String("base_model", req.ModelName),
		zap.String("base_version", req.Version),
		zap.Bool("freeze_embedding", req.FreezeEmbedding),
		zap.Int("examples", len(samples)))

	rng := rand.New(rand.NewSource(e.cfg.Seed))
	opt := classifier.NewAdam(base.Net, req.LearningRate, req.FreezeEmbedding)
	outcome, err := e.epochLoop(ctx, lr, base.Net, opt, samples, nil, req.Hyperparams, rng)
	if err != nil {
		return nil, err
	}

	modelName := req.ModelName + FineTunedSuffix
	bundle := &modelstore.Bundle{
		Net:    base.Net,
		Vocab:  base.Vocab,
		Labels: base.Labels,
		Metadata: modelstore.Metadata{
			MaxTextLen: maxLen,
			Training: &models.TrainingStats{
				TrainingID:      lr.run.ID,
				Epochs:          req.Epochs,
				BatchSize:       req.BatchSize,
				LearningRate:    req.LearningRate,
				TotalExamples:   len(req.Examples),
				BestLoss:        outcome.bestLoss,
				History:         outcome.history,
				FineTuned:       true,
				BaseModel:       req.ModelName,
				BaseVersion:     req.Version,
				FrozenEmbedding: req.FreezeEmbedding,
				UnknownLabels:   unknown,
			},
		},
	}
	version, err = e.store.Save(ctx, bundle, modelName)
	if err != nil {
		return nil, err
	}
	e.activate(bundle)

	return &models.TrainingResult{
		TrainingID:      lr.run.ID,
		Status:          models.RunCompleted,
		ModelName:       modelName,
		ModelVersion:    version,
		BaseModel:       req.ModelName,
		TotalExamples:   len(req.Examples),
		EpochsCompleted: req.Epochs,
		FinalLoss:       outcome.bestLoss,
		DurationSeconds: int(e.now().Sub(lr.run.StartedAt).Seconds()),
		Metrics: map[string]any{
			"new_examples":   len(req.Examples),
			"unknown_labels": unknown,
			"best_loss":      outcome.bestLoss,
		},
	}, nil
}

// epochLoop runs epochs strictly in order. Cancellation is checked before
// every batch. With a validation split the best loss tracks validation loss,
// otherwise training loss.
func (e *Engine) epochLoop(
	ctx context.Context,
	lr *liveRun,
	net *classifier.StatusNet,
	opt *classifier.Adam,
	train, val []classifier.Sample,
	hp Hyperparams,
	rng *rand.Rand,
) (epochOutcome, error) {
	e.update(lr, func(run *models.TrainingRun) {
		run.Status = models.RunInProgress
	})

	start := e.now()
	out := epochOutcome{bestLoss: math.Inf(1)}
	for epoch := 1; epoch <= hp.Epochs; epoch++ {
		rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })

		var sum float64
		for lo := 0; lo < len(train); lo += hp.BatchSize {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			hi := min(lo+hp.BatchSize, len(train))
			sum += opt.Step(net, train[lo:hi]) * float64(hi-lo)
		}
		trainLoss := sum / float64(len(train))

		stat := models.EpochStat{Epoch: epoch, TrainLoss: trainLoss, Timestamp: e.now().UTC()}
		epochLoss := trainLoss
		if len(val) > 0 {
			valLoss := net.Loss(val)
			stat.ValLoss = &valLoss
			epochLoss = valLoss
		}
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return out, fmt.Errorf("loss diverged at epoch %d", epoch)
		}
		out.history = append(out.history, stat)
		out.bestLoss = math.Min(out.bestLoss, epochLoss)

		elapsed := e.now().Sub(start)
		var remaining *int
		if epoch > 1 {
			perEpoch := elapsed.Seconds() / float64(epoch)
			r := int(perEpoch * float64(hp.Epochs-epoch))
			remaining = &r
		}

		best := out.bestLoss
		current := trainLoss
		e.update(lr, func(run *models.TrainingRun) {
			run.CurrentEpoch = epoch
			run.CurrentLoss = &current
			run.BestLoss = &best
			run.ElapsedSeconds = int(elapsed / time.Second)
			run.EstimatedRemainingSeconds = remaining
		})

		fields := []zap.Field{
			zap.String("training_id", lr.run.ID),
			zap.Int("epoch", epoch),
			zap.Int("total_epochs", hp.Epochs),
			zap.Float64("train_loss", trainLoss),
			zap.Float64("best_loss", best),
		}
		if stat.ValLoss != nil {
			fields = append(fields, zap.Float64("val_loss", *stat.ValLoss))
		}
		e.logger.Info("Epoch completed", fields...)
	}
	return out, nil
}

func (e *Engine) activate(bundle *modelstore.Bundle) {
	if e.onComplete != nil {
		e.onComplete(bundle)
	}
}
