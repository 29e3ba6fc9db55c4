package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx-sub011/internal/ids"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and inspect tasks",
}

var (
	taskTitle       string
	taskDescription string
	taskParentID    string
	taskScore       int
	taskReadyLimit  int
)

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new task in backlog",
	RunE:  runTaskCreate,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a single task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tasks with no unresolved blockers, highest score first",
	RunE:  runTaskReady,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status [id] [status]",
	Short: "Transition a task's status",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskStatus,
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (required)")
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskCreateCmd.Flags().StringVar(&taskParentID, "parent", "", "Parent task id")
	taskCreateCmd.Flags().IntVar(&taskScore, "score", 0, "Priority score")
	taskCreateCmd.MarkFlagRequired("title")

	taskReadyCmd.Flags().IntVar(&taskReadyLimit, "limit", 20, "Max tasks to return")

	taskCmd.AddCommand(taskCreateCmd, taskShowCmd, taskReadyCmd, taskStatusCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := ids.NewTaskID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}

	in := store.CreateTaskInput{Title: taskTitle, Description: taskDescription, Score: taskScore}
	if taskParentID != "" {
		in.ParentID = &taskParentID
	}

	task, err := db.CreateTask(ctx, id, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s: %s\n", task.ID, task.Title)
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.GetTask(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tscore=%d\n", task.ID, task.Status, task.Title, task.Score)
	return nil
}

func runTaskReady(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	tasks, err := db.ReadyTasks(ctx, taskReadyLimit)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", t.ID, t.Score, t.Title)
	}
	return nil
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := db.UpdateTaskStatus(ctx, args[0], store.TaskStatus(args[1]))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", task.ID, task.Status)
	return nil
}
