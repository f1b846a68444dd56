package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/studyportal/studysync/internal/schema"
	"github.com/studyportal/studysync/internal/srs"
	"github.com/studyportal/studysync/internal/study"
	"github.com/studyportal/studysync/internal/ui"
)

var reviewCmd = &cobra.Command{
	Use:     "review THEME_ID",
	GroupID: "study",
	Short:   "Review due subjects interactively",
	Long: `Ask every question of the subjects due in a theme and record the answers.

A subject counts as correct when every one of its questions is answered
correctly. Answers are saved locally right away and sent to the API, or
queued when it is unreachable. Use --lessons to study new subjects instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		themeID := parseID(args[0])
		lessons, _ := cmd.Flags().GetBool("lessons")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := openApp(ctx)
		defer a.Close()

		var subjects []*schema.Subject
		var err error
		if lessons {
			subjects, err = a.Study.Lessons(ctx, themeID)
		} else {
			subjects, err = a.Study.DueReviews(ctx, themeID, time.Now())
		}
		if errors.Is(err, study.ErrThemeInactive) {
			fatalf("theme %d is not active, run 'studysync themes add %d' first", themeID, themeID)
		}
		if err != nil {
			fatalf("failed to load subjects: %v", err)
		}
		if limit > 0 && len(subjects) > limit {
			subjects = subjects[:limit]
		}
		if len(subjects) == 0 {
			fmt.Printf("%s Nothing to study\n", ui.RenderPass("✓"))
			return
		}

		var right, wrong int
		for i, subj := range subjects {
			fmt.Printf("\n%s %s %s\n", ui.RenderMuted(fmt.Sprintf("[%d/%d]", i+1, len(subjects))), ui.RenderAccent(subj.Title), ui.RenderMuted(fmt.Sprintf("stage %d", subj.CurrentStage())))

			answer, err := askSubject(ctx, a.Study, subj)
			if errors.Is(err, huh.ErrUserAborted) {
				break
			}
			if err != nil {
				fatalf("%v", err)
			}

			res, err := a.Study.SubmitAnswer(ctx, answer)
			if err != nil {
				if res != nil {
					rollback(ctx, res.Mutation)
				}
				fmt.Printf("%s %v\n", ui.RenderFail("✗"), err)
				continue
			}
			if answer.Correct {
				right++
			} else {
				wrong++
			}
			status := describeSchedule(res.Schedule)
			def := a.Study.Schedule(ctx, subj.SRSID)
			if def.Known(res.Schedule.Stage) && !res.Schedule.Burned() {
				status += " " + ui.RenderPass("(known)")
			}
			fmt.Printf("   %s\n", status)
		}

		fmt.Printf("\n%s %d correct, %d wrong\n", ui.RenderAccent("Σ"), right, wrong)
		if n, _ := a.Queue.Len(ctx); n > 0 {
			fmt.Printf("%s %d change(s) queued until the API is reachable\n", ui.RenderWarn("⚠"), n)
		}
	},
}

// askSubject prompts for every question of subj.
func askSubject(ctx context.Context, svc *study.Service, subj *schema.Subject) (study.Answer, error) {
	questions, err := svc.Questions(ctx, subj)
	if err != nil {
		return study.Answer{}, fmt.Errorf("failed to load questions: %w", err)
	}

	start := time.Now()
	answer := study.Answer{SubjectID: subj.ID, Correct: true}
	for _, q := range questions {
		var typed string
		input := huh.NewInput().
			Title(q.Question).
			Description(q.Description).
			Value(&typed)
		if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
			return answer, err
		}

		answer.Answers = append(answer.Answers, typed)
		ok, hint := q.Accepts(typed)
		switch {
		case ok:
			fmt.Printf("   %s %s\n", ui.RenderPass("✓"), typed)
		case hint != "":
			fmt.Printf("   %s %s (%s)\n", ui.RenderFail("✗"), typed, hint)
			answer.Correct = false
		default:
			fmt.Printf("   %s %s, expected %s\n", ui.RenderFail("✗"), typed, strings.Join(q.Answers, " / "))
			answer.Correct = false
		}
		if q.Note != "" {
			fmt.Printf("   %s\n", ui.RenderMuted(q.Note))
		}
	}
	answer.Took = time.Since(start)
	return answer, nil
}

func describeSchedule(r srs.Result) string {
	if r.Burned() {
		return ui.RenderPass(fmt.Sprintf("stage %d, burned", r.Stage))
	}
	next := srs.HourTime(*r.NextReview).Local()
	return fmt.Sprintf("stage %d, next review %s", r.Stage, next.Format("Mon 15:04"))
}

func init() {
	reviewCmd.Flags().Bool("lessons", false, "Study new subjects instead of due reviews")
	reviewCmd.Flags().IntP("limit", "n", 0, "Stop after this many subjects")
	rootCmd.AddCommand(reviewCmd)
}
